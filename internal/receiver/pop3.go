package receiver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	pop3client "github.com/knadh/go-pop3"

	"github.com/tracyhatemice/mailcode/internal/decode"
)

// POP3Receiver fetches emails over POP3/POP3S. POP3 has no search, so the
// criteria are applied to each retrieved message.
type POP3Receiver struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewPOP3 creates a new POP3 receiver.
func NewPOP3(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *POP3Receiver {
	return &POP3Receiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *POP3Receiver) Fetch(ctx context.Context, criteria Criteria, handle func(Email)) (int, error) {
	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))

	opt := pop3client.Opt{
		Host:       r.host,
		Port:       r.port,
		TLSEnabled: r.useTLS,
	}

	client := pop3client.New(opt)
	conn, err := client.NewConn()
	if err != nil {
		return 0, fmt.Errorf("pop3 connect %s: %w", addr, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			r.logger.Debug("pop3 quit failed", "error", err)
		}
	}()

	if err := conn.Auth(r.username, r.password); err != nil {
		return 0, fmt.Errorf("pop3 auth %s: %w", r.username, err)
	}

	msgs, err := conn.List(0)
	if err != nil {
		return 0, fmt.Errorf("pop3 list: %w", err)
	}

	now := r.now()
	r.logger.Info("search parameters", criteria.LogAttrs()...)
	r.logger.Info("pop3 client-side filter", "query", criteria.SearchString(now), "listed", len(msgs))

	since := criteria.Since(now)
	matched := 0
	for start := 0; start < len(msgs); start += BatchSize {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		end := min(start+BatchSize, len(msgs))
		for _, msg := range msgs[start:end] {
			id := msg.UID
			if id == "" {
				id = strconv.Itoa(msg.ID)
			}

			rawBuf, err := conn.RetrRaw(msg.ID)
			if err != nil {
				r.logger.Warn("pop3 retrieve failed", "msg_id", id, "error", err)
				matched++
				handle(Email{ID: id, Err: fmt.Errorf("pop3 retrieve %s: %w", id, err)})
				continue
			}
			raw := rawBuf.Bytes()

			if !matchesCriteria(raw, criteria, since) {
				continue
			}
			matched++
			handle(Email{ID: id, Content: raw})
		}
	}

	r.logger.Info("pop3 filter done", "count", matched)
	return matched, nil
}

func (r *POP3Receiver) Close() error {
	return nil
}

// matchesCriteria applies the same rules an IMAP server would: date at day
// granularity and case-insensitive substring matches on headers. Messages
// without a parseable Date are kept.
func matchesCriteria(raw []byte, c Criteria, since time.Time) bool {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return false
	}
	defer reader.Close()

	if date, err := reader.Header.Date(); err == nil && !date.IsZero() && date.Before(since) {
		return false
	}

	return headerContains(reader.Header.Get("From"), c.Sender) &&
		headerContains(reader.Header.Get("Subject"), c.Subject) &&
		headerContains(reader.Header.Get("To"), c.Recipient)
}

func headerContains(raw, want string) bool {
	if want == "" {
		return true
	}
	got := decode.Header(raw).Text
	return strings.Contains(strings.ToLower(got), strings.ToLower(want))
}
