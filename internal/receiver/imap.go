package receiver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPReceiver searches and fetches emails over IMAP/IMAPS.
type IMAPReceiver struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewIMAP creates a new IMAP receiver. Only INBOX is ever read.
func NewIMAP(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *IMAPReceiver {
	return &IMAPReceiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *IMAPReceiver) Fetch(ctx context.Context, criteria Criteria, handle func(Email)) (int, error) {
	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))

	var client *imapclient.Client
	var err error

	if r.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: r.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return 0, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	selected := false
	defer func() {
		if selected {
			if err := client.UnselectAndExpunge().Wait(); err != nil {
				r.logger.Debug("imap close failed", "error", err)
			}
		}
		if err := client.Logout().Wait(); err != nil {
			r.logger.Debug("imap logout failed", "error", err)
		}
		_ = client.Close()
	}()

	if err := client.Login(r.username, r.password).Wait(); err != nil {
		return 0, fmt.Errorf("imap login %s: %w", r.username, err)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return 0, fmt.Errorf("imap select INBOX: %w", err)
	}
	selected = true

	now := r.now()
	r.logger.Info("search parameters", criteria.LogAttrs()...)
	r.logger.Info("imap search", "query", criteria.SearchString(now))

	searchData, err := client.UIDSearch(searchCriteria(criteria, now), nil).Wait()
	if err != nil {
		var respErr *imap.Error
		if errors.As(err, &respErr) {
			r.logger.Warn("imap search rejected", "status", respErr.Type, "error", respErr)
			return 0, nil
		}
		return 0, fmt.Errorf("imap search: %w", err)
	}

	uids := searchData.AllUIDs()
	r.logger.Info("imap search done", "count", len(uids))
	if len(uids) == 0 {
		return 0, nil
	}

	for start := 0; start < len(uids); start += BatchSize {
		if err := ctx.Err(); err != nil {
			return len(uids), err
		}
		end := min(start+BatchSize, len(uids))
		r.fetchBatch(client, uids[start:end], handle)
	}

	return len(uids), nil
}

// fetchBatch retrieves full bodies for one batch of UIDs. Every UID in the
// batch is passed to handle exactly once, with Err set when no body came back.
func (r *IMAPReceiver) fetchBatch(client *imapclient.Client, batch []imap.UID, handle func(Email)) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(batch...), fetchOptions)

	bodies := make(map[imap.UID][]byte, len(batch))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			r.logger.Warn("imap fetch item failed", "seq", msg.SeqNum, "error", err)
			continue
		}
		bodies[buf.UID] = buf.FindBodySection(bodySection)
	}
	batchErr := fetchCmd.Close()
	if batchErr != nil {
		r.logger.Warn("imap fetch batch failed", "size", len(batch), "error", batchErr)
	}

	for _, uid := range batch {
		id := strconv.FormatUint(uint64(uid), 10)
		body := bodies[uid]
		switch {
		case len(body) > 0:
			handle(Email{ID: id, Content: body})
		case batchErr != nil:
			handle(Email{ID: id, Err: fmt.Errorf("imap fetch uid %s: %w", id, batchErr)})
		default:
			handle(Email{ID: id, Err: fmt.Errorf("imap fetch uid %s: empty body", id)})
		}
	}
}

func searchCriteria(c Criteria, now time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{
		Since: c.Since(now),
	}
	if c.Sender != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: c.Sender})
	}
	if c.Subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: c.Subject})
	}
	if c.Recipient != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "To", Value: c.Recipient})
	}
	return criteria
}

func (r *IMAPReceiver) Close() error {
	return nil
}
