package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/taxbot/internal/logger"
	"github.com/edgard/taxbot/internal/registry"
)

func sampleRegistry() *registry.Registry {
	return &registry.Registry{
		Date:       "2026-01-15",
		Total:      decimal.RequireFromString("1750.25"),
		Commission: decimal.RequireFromString("61.26"),
		Payments: []registry.Payment{
			{ID: "2f1a", Time: "2026-01-15 10:01:02", Amount: decimal.RequireFromString("1500"), Description: "Подписка", Type: "bank_card"},
			{ID: "2f1b", Time: "2026-01-15 11:15:00", Amount: decimal.RequireFromString("250.25"), Description: "Заказ, №2", Type: "sbp"},
		},
	}
}

func TestTaxCSV(t *testing.T) {
	t.Parallel()

	data, err := TaxCSV(sampleRegistry(), "Доступ к IT-сервису")
	require.NoError(t, err)
	assert.Equal(t, "date,total_rub,payments_count,description\n"+
		"2026-01-15,1750.25,2,Доступ к IT-сервису\n", string(data))
}

func TestPaymentsCSVQuotesFields(t *testing.T) {
	t.Parallel()

	data, err := PaymentsCSV(sampleRegistry())
	require.NoError(t, err)
	assert.Equal(t, "payment_id,time,amount,description,type\n"+
		"2f1a,2026-01-15 10:01:02,1500.00,Подписка,bank_card\n"+
		"2f1b,2026-01-15 11:15:00,250.25,\"Заказ, №2\",sbp\n", string(data))
}

func TestText(t *testing.T) {
	t.Parallel()

	text := Text(sampleRegistry(), "IT <services>")
	assert.Equal(t, "📊 <b>Реестр от 2026-01-15</b>\n\n"+
		"💰 Доход: <b>1750.25 RUB</b>\n"+
		"📦 Платежей: 2\n"+
		"💸 Комиссия: 61.26 RUB (справочно)\n\n"+
		"<b>Для «Мой налог»:</b>\n"+
		"<code>2026-01-15 — 1750.25 RUB — IT &lt;services&gt;</code>", text)
}

func TestWriterWrite(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "reports")
	w := NewWriter(dir, "desc", logger.Discard())

	files, err := w.Write(sampleRegistry(), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tax_ready_2026-01-15.csv"), files.Tax)
	assert.Equal(t, filepath.Join(dir, "payments_2026-01-15.csv"), files.Payments)

	data, err := os.ReadFile(files.Tax)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-01-15,1750.25,2,desc")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestWriterWriteSameDateKeepsBothRegistries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, "desc", logger.Discard())

	first := sampleRegistry()
	second := sampleRegistry()
	second.Total = decimal.RequireFromString("10.00")

	a, err := w.Write(first, "aaaa1111")
	require.NoError(t, err)
	b, err := w.Write(second, "bbbb2222")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "tax_ready_2026-01-15_aaaa1111.csv"), a.Tax)
	assert.Equal(t, filepath.Join(dir, "payments_2026-01-15_bbbb2222.csv"), b.Payments)
	assert.NotEqual(t, a.Tax, b.Tax)

	data, err := os.ReadFile(a.Tax)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-01-15,1750.25,2,desc")

	data, err = os.ReadFile(b.Tax)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-01-15,10.00,2,desc")
}

func TestFileStem(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2026-01-15", fileStem("2026-01-15"))
	assert.Equal(t, "15_01_2026", fileStem("15/01/2026"))
	assert.Equal(t, "etc_passwd", fileStem("../etc/passwd"))
	assert.Equal(t, registry.UnknownDate, fileStem("///"))
}

func TestWriterPrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, "desc", logger.Discard())
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	old := now.Add(-40 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)

	files := map[string]time.Time{
		"tax_ready_2025-12-01.csv": old,
		"payments_2025-12-01.csv":  old,
		"tax_ready_2026-01-31.csv": fresh,
		"notes.csv":                old,
	}
	for name, mtime := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	removed, err := w.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.FileExists(t, filepath.Join(dir, "tax_ready_2026-01-31.csv"))
	assert.FileExists(t, filepath.Join(dir, "notes.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "payments_2025-12-01.csv"))
}

func TestWriterPruneMissingDir(t *testing.T) {
	t.Parallel()

	w := NewWriter(filepath.Join(t.TempDir(), "absent"), "desc", logger.Discard())
	removed, err := w.Prune(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
