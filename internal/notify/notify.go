// Package notify delivers processed registries to Telegram chats.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taxbot/internal/processing"
	"github.com/edgard/taxbot/internal/report"
)

// Sender is the part of the Telegram client used to deliver reports.
// *bot.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
}

// Reporter sends the summary text and both report files for a registry.
type Reporter struct {
	description     string
	taxCaption      string
	paymentsCaption string
}

// NewReporter returns a Reporter using description in the tax line and the
// given document captions.
func NewReporter(description, taxCaption, paymentsCaption string) *Reporter {
	return &Reporter{
		description:     description,
		taxCaption:      taxCaption,
		paymentsCaption: paymentsCaption,
	}
}

// Send delivers res to chatID. The summary is sent first; if it fails the
// files are not sent. File failures are joined into the returned error.
func (r *Reporter) Send(ctx context.Context, s Sender, chatID int64, res processing.Result) error {
	_, err := s.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      report.Text(res.Registry, r.description),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to send report for %s: %w", res.Registry.Date, err)
	}

	if res.Files == nil {
		return nil
	}

	var errs []error
	if res.Files.Tax != "" {
		errs = append(errs, sendFile(ctx, s, chatID, res.Files.Tax, r.taxCaption))
	}
	if res.Files.Payments != "" {
		errs = append(errs, sendFile(ctx, s, chatID, res.Files.Payments, r.paymentsCaption))
	}
	return errors.Join(errs...)
}

func sendFile(ctx context.Context, s Sender, chatID int64, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	_, err = s.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: filepath.Base(path),
			Data:     bytes.NewReader(data),
		},
		Caption: caption,
	})
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", filepath.Base(path), err)
	}
	return nil
}
