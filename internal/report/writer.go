package report

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/edgard/taxbot/internal/registry"
)

const (
	taxPrefix      = "tax_ready_"
	paymentsPrefix = "payments_"
	fileExt        = ".csv"
)

var unsafeName = regexp.MustCompile(`[^0-9A-Za-z._-]+`)

// Files are the report files written for one registry.
type Files struct {
	Tax      string
	Payments string
}

// Writer stores report files in a directory on the data volume.
type Writer struct {
	dir         string
	description string
	logger      *slog.Logger
	now         func() time.Time
}

// NewWriter returns a Writer for dir. description is the income description
// printed in the tax record.
func NewWriter(dir, description string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		dir:         dir,
		description: description,
		logger:      log.With("component", "report_writer"),
		now:         time.Now,
	}
}

// Description returns the income description used in tax records.
func (w *Writer) Description() string {
	return w.description
}

// Write renders and stores both report files for reg. tag tells apart
// registries sharing a date, usually a short content hash; files with the
// same date and tag are replaced.
func (w *Writer) Write(reg *registry.Registry, tag string) (*Files, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	taxData, err := TaxCSV(reg, w.description)
	if err != nil {
		return nil, err
	}
	paymentsData, err := PaymentsCSV(reg)
	if err != nil {
		return nil, err
	}

	name := fileStem(reg.Date)
	if tag = strings.Trim(unsafeName.ReplaceAllString(tag, "_"), "._"); tag != "" {
		name += "_" + tag
	}
	files := &Files{
		Tax:      filepath.Join(w.dir, taxPrefix+name+fileExt),
		Payments: filepath.Join(w.dir, paymentsPrefix+name+fileExt),
	}

	if err := writeFileAtomic(files.Tax, taxData); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(files.Payments, paymentsData); err != nil {
		return nil, err
	}

	w.logger.Debug("Report files written", "tax_file", files.Tax, "payments_file", files.Payments)
	return files, nil
}

// Prune removes report files last modified more than olderThan ago and
// returns how many were removed.
func (w *Writer) Prune(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list report directory: %w", err)
	}

	cutoff := w.now().Add(-olderThan)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if entry.IsDir() || !isReportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		w.logger.Info("Old report files removed", "count", removed)
	}
	return removed, errors.Join(errs...)
}

func isReportFile(name string) bool {
	if !strings.HasSuffix(name, fileExt) {
		return false
	}
	return strings.HasPrefix(name, taxPrefix) || strings.HasPrefix(name, paymentsPrefix)
}

// fileStem makes a registry date safe to use inside a file name.
func fileStem(date string) string {
	stem := strings.Trim(unsafeName.ReplaceAllString(date, "_"), "._")
	if stem == "" {
		return registry.UnknownDate
	}
	return stem
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil { //nolint:gosec // reports are not secret
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
