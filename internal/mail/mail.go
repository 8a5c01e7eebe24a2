// Package mail fetches payment registry attachments from an IMAP mailbox.
package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" //revive:disable:blank-imports
	gomail "github.com/emersion/go-message/mail"
)

// ErrConnection wraps failures to reach or log into the mailbox.
var ErrConnection = errors.New("mailbox connection failed")

// Attachment is one file attached to a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is a fetched message reduced to what processing needs.
type Message struct {
	ID          string
	SeqNum      uint32
	Attachments []Attachment
}

// Fetcher retrieves candidate messages from a mailbox.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Message, error)
}

// ParseMessage reads an RFC 822 message and keeps the attachments whose file
// name ends with one of the allowed extensions (case-insensitive). Messages
// without a Message-Id get "unknown-<seq>".
func ParseMessage(r io.Reader, seq uint32, allowed []string) (*Message, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message %d: %w", seq, err)
	}
	defer mr.Close() //nolint:errcheck // read-only

	msg := &Message{
		ID:     strings.TrimSpace(mr.Header.Get("Message-Id")),
		SeqNum: seq,
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("unknown-%d", seq)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read part of message %s: %w", msg.ID, err)
		}
		if part == nil {
			continue
		}

		filename, ok := attachmentName(part.Header)
		if !ok || !hasAllowedExtension(filename, allowed) {
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q of message %s: %w", filename, msg.ID, err)
		}
		msg.Attachments = append(msg.Attachments, Attachment{Filename: filename, Content: content})
	}

	return msg, nil
}

// attachmentName returns the decoded file name of a part that carries a
// Content-Disposition, inline or attachment.
func attachmentName(h gomail.PartHeader) (string, bool) {
	var header message.Header
	switch ph := h.(type) {
	case *gomail.AttachmentHeader:
		header = ph.Header
	case *gomail.InlineHeader:
		header = ph.Header
	default:
		return "", false
	}

	if header.Get("Content-Disposition") == "" {
		return "", false
	}

	ah := gomail.AttachmentHeader{Header: header}
	filename, err := ah.Filename()
	if err != nil || filename == "" {
		return "", false
	}
	return filename, true
}

func hasAllowedExtension(filename string, allowed []string) bool {
	name := strings.ToLower(filename)
	for _, ext := range allowed {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
