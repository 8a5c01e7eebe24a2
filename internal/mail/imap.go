package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/edgard/taxbot/internal/config"
)

const (
	inbox      = "INBOX"
	fetchQueue = 10
)

// IMAPFetcher fetches messages over IMAPS.
type IMAPFetcher struct {
	cfg    config.IMAPConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewIMAPFetcher returns a Fetcher for the configured mailbox.
func NewIMAPFetcher(cfg config.IMAPConfig, log *slog.Logger) *IMAPFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &IMAPFetcher{
		cfg:    cfg,
		logger: log.With("component", "imap_fetcher"),
		now:    time.Now,
	}
}

// Fetch connects to the mailbox, searches for recent messages matching the
// configured filters and returns every match with its allowed attachments.
// Messages that fail to parse are logged and left out.
func (f *IMAPFetcher) Fetch(ctx context.Context) ([]Message, error) {
	if f.cfg.Host == "" {
		return nil, fmt.Errorf("%w: imap host is not configured", ErrConnection)
	}

	c, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})
	defer stop()
	defer func() {
		if err := c.Logout(); err != nil && ctx.Err() == nil {
			f.logger.WarnContext(ctx, "IMAP logout failed", "error", err)
		}
	}()

	if _, err := c.Select(inbox, true); err != nil {
		return nil, fmt.Errorf("%w: failed to select %s: %v", ErrConnection, inbox, err)
	}

	criteria := f.searchCriteria()
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search failed: %w", err)
	}
	f.logger.InfoContext(ctx, "Found messages to check", "count", len(seqNums),
		"since", criteria.Since.Format("02-Jan-2006"), "from", f.cfg.FromFilter, "subject", f.cfg.SubjectFilter)
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	fetched := make(chan *imap.Message, fetchQueue)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, fetched)
	}()

	messages := make([]Message, 0, len(seqNums))
	for raw := range fetched {
		body := raw.GetBody(section)
		if body == nil {
			f.logger.WarnContext(ctx, "Server returned no body", "seq", raw.SeqNum)
			continue
		}

		msg, err := ParseMessage(body, raw.SeqNum, f.cfg.AllowedExtensions)
		if err != nil {
			f.logger.WarnContext(ctx, "Skipping unreadable message", "seq", raw.SeqNum, "error", err)
			continue
		}
		messages = append(messages, *msg)
	}

	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("imap fetch failed: %w", err)
	}

	return messages, nil
}

func (f *IMAPFetcher) searchCriteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.Since = f.now().AddDate(0, 0, -f.cfg.DaysToCheck)
	if f.cfg.FromFilter != "" {
		criteria.Header.Add("From", f.cfg.FromFilter)
	}
	if f.cfg.SubjectFilter != "" {
		criteria.Header.Add("Subject", f.cfg.SubjectFilter)
	}
	return criteria
}

// connect dials and logs in, retrying dial failures with exponential backoff.
// Rejected credentials are not retried.
func (f *IMAPFetcher) connect(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	dialer := &net.Dialer{Timeout: f.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: f.cfg.Host, MinVersion: tls.VersionTLS12}

	var c *client.Client
	operation := func() error {
		conn, err := client.DialWithDialerTLS(dialer, addr, tlsConfig)
		if err != nil {
			f.logger.WarnContext(ctx, "IMAP dial failed", "addr", addr, "error", err)
			return err
		}
		conn.Timeout = f.cfg.Timeout

		if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
			_ = conn.Logout()
			return backoff.Permanent(fmt.Errorf("login as %s: %w", f.cfg.User, err))
		}
		c = conn
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.cfg.Retries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}

	f.logger.DebugContext(ctx, "IMAP connected", "addr", addr, "user", f.cfg.User)
	return c, nil
}
