// Package processing runs the mailbox check: fetch, deduplicate, parse,
// render reports and record what was handled.
package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgard/taxbot/internal/database"
	"github.com/edgard/taxbot/internal/mail"
	"github.com/edgard/taxbot/internal/registry"
	"github.com/edgard/taxbot/internal/report"
)

const reportTagLen = 8

// ErrCheckInProgress is returned when a check is requested while another one runs.
var ErrCheckInProgress = errors.New("check already in progress")

// Result is one newly processed registry.
type Result struct {
	MessageID string
	Filename  string
	Registry  *registry.Registry
	Files     *report.Files
}

// Processor runs mailbox checks. Only one check runs at a time.
type Processor struct {
	fetcher mail.Fetcher
	store   database.Store
	parser  *registry.Parser
	writer  *report.Writer
	logger  *slog.Logger

	mu sync.Mutex
}

// NewProcessor wires a Processor.
func NewProcessor(
	fetcher mail.Fetcher,
	store database.Store,
	parser *registry.Parser,
	writer *report.Writer,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		fetcher: fetcher,
		store:   store,
		parser:  parser,
		writer:  writer,
		logger:  log.With("component", "processor"),
	}
}

// Check fetches recent messages and processes every attachment not seen
// before. Failures on a single message or attachment are logged and skipped.
// A mailbox failure aborts the check without touching the statistics.
// Cancellation stops the check early; registries recorded up to that point
// are still returned and counted.
func (p *Processor) Check(ctx context.Context) ([]Result, error) {
	if !p.mu.TryLock() {
		return nil, ErrCheckInProgress
	}
	defer p.mu.Unlock()

	p.logger.InfoContext(ctx, "Starting email check")

	messages, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var results []Result
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			p.logger.WarnContext(ctx, "Email check interrupted", "error", err, "new_registries", len(results))
			break
		}

		processed, err := p.processMessage(ctx, msg)
		if err != nil {
			p.logger.ErrorContext(ctx, "Error processing message", "message_id", msg.ID, "error", err)
		}
		results = append(results, processed...)
	}

	// Recorded registries must be counted even when ctx is already done.
	if err := p.store.UpdateStats(context.WithoutCancel(ctx), len(messages), len(results)); err != nil {
		p.logger.ErrorContext(ctx, "Failed to update stats", "error", err)
	}

	p.logger.InfoContext(ctx, "Email check complete", "messages", len(messages), "new_registries", len(results))
	return results, nil
}

// processMessage handles the attachments of one message. Results gathered
// before a store failure are still returned.
func (p *Processor) processMessage(ctx context.Context, msg mail.Message) ([]Result, error) {
	var results []Result

	for _, att := range msg.Attachments {
		sum := sha256.Sum256(att.Content)
		hash := hex.EncodeToString(sum[:])
		key := database.FileKey{
			MessageID: msg.ID,
			Filename:  att.Filename,
			FileHash:  hash,
		}
		log := p.logger.With("message_id", msg.ID, "filename", att.Filename)

		seen, err := p.store.IsProcessed(ctx, key)
		if err != nil {
			return results, err
		}
		if seen {
			log.InfoContext(ctx, "Skipping already processed file")
			continue
		}

		reg, err := p.parser.Parse(att.Content)
		if err != nil {
			log.WarnContext(ctx, "No registry data in attachment", "error", err)
			continue
		}

		files, err := p.writer.Write(reg, hash[:reportTagLen])
		if err != nil {
			log.ErrorContext(ctx, "Failed to write report files", "error", err)
			continue
		}

		// Nothing is recorded once the check is canceled, so the file is
		// picked up again by the next check.
		if err := ctx.Err(); err != nil {
			return results, err
		}

		rec := &database.RegistryRecord{
			RegistryDate:  reg.Date,
			TotalAmount:   reg.Total,
			Commission:    reg.Commission,
			PaymentsCount: reg.Count(),
		}
		if err := p.store.MarkProcessed(ctx, key, rec); err != nil {
			return results, err
		}

		log.InfoContext(ctx, "Registry processed", "date", reg.Date, "total", reg.Total.StringFixed(2), "payments", reg.Count())
		results = append(results, Result{
			MessageID: msg.ID,
			Filename:  att.Filename,
			Registry:  reg,
			Files:     files,
		})
	}

	return results, nil
}
