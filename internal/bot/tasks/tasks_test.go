package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/taxbot/internal/config"
	"github.com/edgard/taxbot/internal/database"
	"github.com/edgard/taxbot/internal/logger"
	"github.com/edgard/taxbot/internal/notify"
	"github.com/edgard/taxbot/internal/processing"
	"github.com/edgard/taxbot/internal/registry"
)

type fakeChecker struct {
	results []processing.Result
	err     error
	calls   int
}

func (f *fakeChecker) Check(context.Context) ([]processing.Result, error) {
	f.calls++
	return f.results, f.err
}

type fakeSender struct {
	mu      sync.Mutex
	sent    map[any]int
	failFor int64
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ChatID == f.failFor {
		return nil, errors.New("bot was blocked by the user")
	}
	if f.sent == nil {
		f.sent = make(map[any]int)
	}
	f.sent[p.ChatID]++
	return &models.Message{}, nil
}

func (f *fakeSender) SendDocument(context.Context, *bot.SendDocumentParams) (*models.Message, error) {
	return &models.Message{}, nil
}

type fakePruner struct {
	olderThan time.Duration
	removed   int
	err       error
}

func (f *fakePruner) Prune(olderThan time.Duration) (int, error) {
	f.olderThan = olderThan
	return f.removed, f.err
}

func newDeps(checker Checker, sender notify.Sender, pruner Pruner) TaskDeps {
	return TaskDeps{
		Logger: logger.Discard(),
		Config: &config.Config{
			Telegram: config.TelegramConfig{AdminIDs: []int64{1, 2, 3}},
			Report:   config.ReportConfig{TaxDescription: "desc", Retention: 48 * time.Hour},
		},
		Checker:  checker,
		Reporter: notify.NewReporter("desc", "tax", "payments"),
		Sender:   sender,
		Pruner:   pruner,
	}
}

func result(date string) processing.Result {
	return processing.Result{Registry: &registry.Registry{
		Date:       date,
		Total:      decimal.RequireFromString("10"),
		Commission: decimal.Zero,
		Payments:   []registry.Payment{{ID: "p"}},
	}}
}

func TestEmailCheckSendsToEveryAdmin(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{results: []processing.Result{result("2026-01-14"), result("2026-01-15")}}
	sender := &fakeSender{failFor: 2}
	task := newEmailCheckTask(newDeps(checker, sender, &fakePruner{}))

	require.NoError(t, task(context.Background()))
	assert.Equal(t, 1, checker.calls)
	assert.Equal(t, 2, sender.sent[int64(1)])
	assert.Equal(t, 0, sender.sent[int64(2)])
	assert.Equal(t, 2, sender.sent[int64(3)], "admin after a failing one still gets reports")
}

func TestEmailCheckOutcomes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		checker *fakeChecker
		wantErr bool
	}{
		{"nothing new", &fakeChecker{}, false},
		{"busy", &fakeChecker{err: processing.ErrCheckInProgress}, false},
		{"mailbox down", &fakeChecker{err: errors.New("dial tcp: refused")}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sender := &fakeSender{}
			err := newEmailCheckTask(newDeps(tc.checker, sender, &fakePruner{}))(context.Background())
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Empty(t, sender.sent)
		})
	}
}

func TestReportCleanup(t *testing.T) {
	t.Parallel()

	pruner := &fakePruner{removed: 4}
	task := newReportCleanupTask(newDeps(&fakeChecker{}, &fakeSender{}, pruner))
	require.NoError(t, task(context.Background()))
	assert.Equal(t, 48*time.Hour, pruner.olderThan)

	failing := &fakePruner{err: errors.New("permission denied")}
	task = newReportCleanupTask(newDeps(&fakeChecker{}, &fakeSender{}, failing))
	assert.Error(t, task(context.Background()))
}

func TestSQLMaintenance(t *testing.T) {
	t.Parallel()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	defer database.CloseDB(db)

	deps := newDeps(&fakeChecker{}, &fakeSender{}, &fakePruner{})
	deps.Store = database.NewStore(db, logger.Discard())

	require.NoError(t, newSQLMaintenanceTask(deps)(context.Background()))
}

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()

	tasks := RegisterAllTasks(newDeps(&fakeChecker{}, &fakeSender{}, &fakePruner{}))
	assert.Len(t, tasks, 3)
	for _, name := range []string{config.TaskEmailCheck, config.TaskSQLMaintenance, config.TaskReportCleanup} {
		assert.Contains(t, tasks, name)
	}
}
