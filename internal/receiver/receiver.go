package receiver

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BatchSize bounds how many messages are requested from the server at once.
const BatchSize = 10

// imapDate is the date layout of the IMAP SINCE search key.
const imapDate = "02-Jan-2006"

// Criteria selects the messages of one run. Empty strings mean "no filter".
type Criteria struct {
	Window    time.Duration
	Sender    string
	Subject   string
	Recipient string
	// Content is accepted for compatibility with saved searches but is
	// not applied to the search.
	Content string
}

// Since returns the start of the day containing now-Window. Servers only
// compare dates for SINCE, so messages up to a day older than the exact
// cutoff can match.
func (c Criteria) Since(now time.Time) time.Time {
	cutoff := now.Add(-c.Window)
	return time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, cutoff.Location())
}

// SearchString renders the criteria the way they go on the wire, for
// diagnostics.
func (c Criteria) SearchString(now time.Time) string {
	terms := []string{fmt.Sprintf("SINCE %q", c.Since(now).Format(imapDate))}
	if c.Sender != "" {
		terms = append(terms, fmt.Sprintf("FROM %q", c.Sender))
	}
	if c.Subject != "" {
		terms = append(terms, fmt.Sprintf("SUBJECT %q", c.Subject))
	}
	if c.Recipient != "" {
		terms = append(terms, fmt.Sprintf("TO %q", c.Recipient))
	}
	return "(" + strings.Join(terms, " ") + ")"
}

// LogAttrs returns the criteria as slog key/value pairs.
func (c Criteria) LogAttrs() []any {
	return []any{
		"window", c.Window,
		"sender", c.Sender,
		"subject", c.Subject,
		"recipient", c.Recipient,
		"content", c.Content,
	}
}

// Email is one retrieved message, or the error that prevented retrieving it.
type Email struct {
	ID      string // server identifier (IMAP UID or POP3 UIDL)
	Content []byte // raw RFC 5322 message bytes
	Err     error
}

// Receiver fetches emails from a remote mail server.
type Receiver interface {
	// Fetch opens a session, finds the messages matching criteria and
	// passes each one to handle in server order. It returns the number of
	// matching messages. Zero matches is not an error.
	Fetch(ctx context.Context, criteria Criteria, handle func(Email)) (int, error)

	// Close releases any resources held by the receiver.
	Close() error
}
