package database

import (
	"github.com/shopspring/decimal"
)

// NeverChecked is reported as the last check time before the first check completes.
const NeverChecked = "Never"

// FileKey identifies one attachment of one message. A file is processed at
// most once per key; the same bytes under another message id count as new.
type FileKey struct {
	MessageID string `db:"message_id"`
	Filename  string `db:"filename"`
	FileHash  string `db:"file_hash"`
}

// RegistryRecord is the history row kept for every processed registry.
type RegistryRecord struct {
	ID            int64           `db:"id"`
	RegistryDate  string          `db:"registry_date"` // YYYY-MM-DD as printed in the registry
	TotalAmount   decimal.Decimal `db:"total_amount"`
	Commission    decimal.Decimal `db:"commission"`
	PaymentsCount int             `db:"payments_count"`
	Filename      string          `db:"filename"`
	MessageID     string          `db:"message_id"`
	ProcessedAt   string          `db:"processed_at"`
}

// Stats holds the processing counters shown by /status.
type Stats struct {
	LastCheck       string `db:"last_check"` // "2006-01-02 15:04:05" (UTC) or NeverChecked
	EmailsProcessed int64  `db:"emails_processed"`
	FilesProcessed  int64  `db:"files_processed"`
}

// IncomeSummary aggregates registry history over a date range.
type IncomeSummary struct {
	Total      decimal.Decimal
	Registries int
	Payments   int
}
