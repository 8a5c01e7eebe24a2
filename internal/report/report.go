// Package report renders processed registries into the files and messages
// the owner needs to declare income in «Мой налог».
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"strconv"

	"github.com/edgard/taxbot/internal/registry"
)

var (
	taxHeader      = []string{"date", "total_rub", "payments_count", "description"}
	paymentsHeader = []string{"payment_id", "time", "amount", "description", "type"}
)

// TaxCSV renders the single line income record for the registry.
func TaxCSV(reg *registry.Registry, description string) ([]byte, error) {
	return writeCSV([][]string{
		taxHeader,
		{reg.Date, reg.Total.StringFixed(2), strconv.Itoa(reg.Count()), description},
	})
}

// PaymentsCSV renders one line per payment of the registry.
func PaymentsCSV(reg *registry.Registry) ([]byte, error) {
	rows := make([][]string, 0, reg.Count()+1)
	rows = append(rows, paymentsHeader)
	for _, p := range reg.Payments {
		rows = append(rows, []string{p.ID, p.Time, p.Amount.StringFixed(2), p.Description, p.Type})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to render csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Text renders the Telegram (HTML parse mode) summary for the registry.
func Text(reg *registry.Registry, description string) string {
	date := html.EscapeString(reg.Date)
	total := reg.Total.StringFixed(2)

	return fmt.Sprintf("📊 <b>Реестр от %s</b>\n\n"+
		"💰 Доход: <b>%s RUB</b>\n"+
		"📦 Платежей: %d\n"+
		"💸 Комиссия: %s RUB (справочно)\n\n"+
		"<b>Для «Мой налог»:</b>\n"+
		"<code>%s — %s RUB — %s</code>",
		date, total, reg.Count(), reg.Commission.StringFixed(2),
		date, total, html.EscapeString(description))
}
