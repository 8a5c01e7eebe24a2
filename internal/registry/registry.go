// Package registry parses YooKassa payment registries.
//
// A registry is a semicolon separated file: a couple of metadata lines (the
// second one carries the payments date), a header row, one row per payment
// and trailing summary rows.
package registry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column names and markers used by YooKassa registries.
const (
	dateMarker = "Дата платежей:"

	colID          = "Идентификатор платежа"
	colAmount      = "Сумма платежа"
	colCommission  = "Сумма комиссии без НДС"
	colTime        = "Время платежа"
	colDescription = "Описание"
	colType        = "Тип платежа"
	colCurrency    = "Валюта платежа"

	summaryTotal = "Сумма принятых платежей"
	summaryCount = "Число платежей"

	// UnknownDate is used when the registry has no payments date line.
	UnknownDate = "unknown"

	defaultCurrency = "RUB"
	minLines        = 4
)

var (
	// ErrTooShort is returned for content with fewer lines than a registry can have.
	ErrTooShort = errors.New("registry is too short")
	// ErrNoHeader is returned when no header row is present.
	ErrNoHeader = errors.New("registry header not found")
	// ErrEmptyRegistry is returned when the registry lists no payments.
	ErrEmptyRegistry = errors.New("registry has no payments")

	errEmptyAmount = errors.New("amount is empty")
)

// Payment is one row of a registry.
type Payment struct {
	ID          string
	Amount      decimal.Decimal
	Commission  decimal.Decimal
	Currency    string
	Time        string
	Description string
	Type        string
}

// Registry is a parsed payment registry.
type Registry struct {
	Date       string
	Total      decimal.Decimal
	Commission decimal.Decimal
	Payments   []Payment
}

// Count returns the number of payments in the registry.
func (r *Registry) Count() int {
	return len(r.Payments)
}

// Parser turns raw attachment bytes into a Registry.
type Parser struct {
	logger *slog.Logger
}

// NewParser returns a Parser that logs skipped rows to log.
func NewParser(log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{logger: log.With("component", "registry_parser")}
}

// Parse parses raw registry content.
func (p *Parser) Parse(data []byte) (*Registry, error) {
	text, err := decode(data)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	if len(lines) < minLines {
		return nil, fmt.Errorf("%w: %d lines", ErrTooShort, len(lines))
	}

	date := UnknownDate
	if strings.Contains(lines[1], dateMarker) {
		if _, after, ok := strings.Cut(lines[1], ":"); ok {
			date = strings.TrimSpace(after)
		}
	} else {
		p.logger.Warn("Payments date not found in registry")
	}

	headerIdx := -1
	for i, line := range lines {
		if strings.Contains(line, colID) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrNoHeader
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[headerIdx:], "\n")))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read registry header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}

	reg := &Registry{Date: date, Total: decimal.Zero, Commission: decimal.Zero}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logger.Warn("Skipping malformed registry row", "error", err)
			continue
		}
		line, _ := reader.FieldPos(0)
		line += headerIdx

		if len(record) > 0 && (strings.Contains(record[0], summaryTotal) || strings.Contains(record[0], summaryCount)) {
			break
		}

		row := rowReader{columns: columns, record: record}
		id := row.get(colID)
		if id == "" {
			continue
		}

		amount, err := row.amount(colAmount)
		if err != nil {
			p.logger.Warn("Skipping registry row with bad amount", "line", line, "payment_id", id, "error", err)
			continue
		}
		commission, err := row.amount(colCommission)
		if err != nil {
			p.logger.Warn("Skipping registry row with bad commission", "line", line, "payment_id", id, "error", err)
			continue
		}

		currency := row.get(colCurrency)
		if _, ok := columns[colCurrency]; !ok {
			currency = defaultCurrency
		}

		reg.Total = reg.Total.Add(amount)
		reg.Commission = reg.Commission.Add(commission)
		reg.Payments = append(reg.Payments, Payment{
			ID:          id,
			Amount:      amount,
			Commission:  commission,
			Currency:    currency,
			Time:        row.get(colTime),
			Description: row.get(colDescription),
			Type:        row.get(colType),
		})
	}

	if len(reg.Payments) == 0 {
		return nil, ErrEmptyRegistry
	}
	return reg, nil
}

type rowReader struct {
	columns map[string]int
	record  []string
}

func (r rowReader) get(name string) string {
	idx, ok := r.columns[name]
	if !ok || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}

// amount parses a money column. A registry without the column counts it as
// zero; a blank cell in a present column is an error.
func (r rowReader) amount(name string) (decimal.Decimal, error) {
	if _, ok := r.columns[name]; !ok {
		return decimal.Zero, nil
	}
	return parseAmount(r.get(name))
}

// parseAmount parses Russian formatted money ("1 234,50").
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return decimal.Zero, errEmptyAmount
	}
	return decimal.NewFromString(s)
}

// decode strips a UTF-8 BOM and falls back to Windows-1251 for non UTF-8 input.
func decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), data)
		if err != nil {
			return "", fmt.Errorf("failed to decode registry: %w", err)
		}
		return string(out), nil
	}

	out, err := charmap.Windows1251.NewDecoder().Bytes(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if err != nil {
		return "", fmt.Errorf("failed to decode registry as windows-1251: %w", err)
	}
	return string(out), nil
}
