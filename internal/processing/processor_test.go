package processing_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/taxbot/internal/database"
	"github.com/edgard/taxbot/internal/logger"
	"github.com/edgard/taxbot/internal/mail"
	"github.com/edgard/taxbot/internal/processing"
	"github.com/edgard/taxbot/internal/registry"
	"github.com/edgard/taxbot/internal/report"
)

const registryCSV = "Реестр принятых платежей\n" +
	"Дата платежей: 2026-01-15\n" +
	"Идентификатор платежа;Время платежа;Сумма платежа;Сумма комиссии без НДС;Описание;Тип платежа\n" +
	"p1;10:00;100,00;3,50;Подписка;bank_card\n" +
	"p2;11:00;50,50;1,75;Подписка;sbp\n" +
	"Сумма принятых платежей;150,50\n"

type fakeFetcher struct {
	messages []mail.Message
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeFetcher) Fetch(context.Context) ([]mail.Message, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.messages, f.err
}

type fixture struct {
	store     database.Store
	processor *processing.Processor
	reports   string
}

// cancelingStore cancels the check right after a registry is recorded.
type cancelingStore struct {
	database.Store
	cancel context.CancelFunc
}

func (s *cancelingStore) MarkProcessed(ctx context.Context, key database.FileKey, rec *database.RegistryRecord) error {
	err := s.Store.MarkProcessed(ctx, key, rec)
	s.cancel()
	return err
}

func reportTag(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:8]
}

func newFixture(t *testing.T, fetcher mail.Fetcher, wrap ...func(database.Store) database.Store) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	log := logger.Discard()
	store := database.NewStore(db, log)
	checked := store
	for _, w := range wrap {
		checked = w(checked)
	}
	reports := filepath.Join(dir, "reports")

	return &fixture{
		store:   store,
		reports: reports,
		processor: processing.NewProcessor(
			fetcher,
			checked,
			registry.NewParser(log),
			report.NewWriter(reports, "desc", log),
			log,
		),
	}
}

func TestCheckProcessesNewRegistriesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fetcher := &fakeFetcher{messages: []mail.Message{
		{ID: "<m1>", Attachments: []mail.Attachment{
			{Filename: "registry.csv", Content: []byte(registryCSV)},
			{Filename: "broken.csv", Content: []byte("not a registry")},
		}},
		{ID: "<m2>"},
	}}
	f := newFixture(t, fetcher)

	results, err := f.processor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "<m1>", res.MessageID)
	assert.Equal(t, "registry.csv", res.Filename)
	assert.Equal(t, "150.50", res.Registry.Total.StringFixed(2))
	assert.Equal(t, filepath.Join(f.reports, "tax_ready_2026-01-15_"+reportTag(registryCSV)+".csv"), res.Files.Tax)
	assert.FileExists(t, res.Files.Payments)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EmailsProcessed)
	assert.Equal(t, int64(1), stats.FilesProcessed)

	// Second run sees the same mailbox and reports nothing new.
	results, err = f.processor.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err = f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.EmailsProcessed)
	assert.Equal(t, int64(1), stats.FilesProcessed)

	history, err := f.store.RecentRegistries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].PaymentsCount)
}

func TestCheckFetchFailureLeavesStatsUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, &fakeFetcher{err: mail.ErrConnection})

	_, err := f.processor.Check(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mail.ErrConnection))

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.NeverChecked, stats.LastCheck)
}

func TestCheckRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{block: make(chan struct{}), started: make(chan struct{})}
	f := newFixture(t, fetcher)

	done := make(chan error, 1)
	go func() {
		_, err := f.processor.Check(context.Background())
		done <- err
	}()
	<-fetcher.started

	_, err := f.processor.Check(context.Background())
	assert.ErrorIs(t, err, processing.ErrCheckInProgress)

	close(fetcher.block)
	require.NoError(t, <-done)
}

func TestCheckCanceledKeepsRecordedRegistries(t *testing.T) {
	t.Parallel()

	second := strings.Replace(registryCSV, "2026-01-15", "2026-01-16", 1)
	fetcher := &fakeFetcher{messages: []mail.Message{
		{ID: "<m1>", Attachments: []mail.Attachment{{Filename: "a.csv", Content: []byte(registryCSV)}}},
		{ID: "<m2>", Attachments: []mail.Attachment{{Filename: "b.csv", Content: []byte(second)}}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, fetcher, func(s database.Store) database.Store {
		return &cancelingStore{Store: s, cancel: cancel}
	})

	results, err := f.processor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<m1>", results[0].MessageID)

	stats, err := f.store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FilesProcessed)

	// The next check picks up only what the canceled one did not record.
	results, err = f.processor.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<m2>", results[0].MessageID)

	history, err := f.store.RecentRegistries(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCheckSameDateRegistriesGetSeparateFiles(t *testing.T) {
	t.Parallel()

	other := strings.Replace(registryCSV, "p2;11:00;50,50", "p2;11:00;60,50", 1)
	fetcher := &fakeFetcher{messages: []mail.Message{
		{ID: "<m1>", Attachments: []mail.Attachment{
			{Filename: "a.csv", Content: []byte(registryCSV)},
			{Filename: "b.csv", Content: []byte(other)},
		}},
	}}
	f := newFixture(t, fetcher)

	results, err := f.processor.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].Files.Tax, results[1].Files.Tax)

	data, err := os.ReadFile(results[0].Files.Tax)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-01-15,150.50,2,desc")

	data, err = os.ReadFile(results[1].Files.Tax)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-01-15,160.50,2,desc")
}
