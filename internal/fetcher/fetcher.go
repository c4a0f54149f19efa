package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/mailcode/internal/decode"
	"github.com/tracyhatemice/mailcode/internal/extract"
	"github.com/tracyhatemice/mailcode/internal/mailparse"
	"github.com/tracyhatemice/mailcode/internal/receiver"
	"github.com/tracyhatemice/mailcode/internal/report"
)

// Summary counts what happened during one run.
type Summary struct {
	Matched  int    // messages the server search matched
	Fetched  int    // messages retrieved successfully
	Reported int    // messages with a code or link
	Failed   int    // messages that could not be retrieved or parsed
	Path     string // report file, empty when nothing was written
}

// Fetcher runs one search against a mailbox and reports what it extracts.
type Fetcher struct {
	receiver  receiver.Receiver
	extractor *extract.Extractor
	report    *report.Builder
	logger    *slog.Logger
	loc       *time.Location
}

// New creates a Fetcher.
func New(
	recv receiver.Receiver,
	extractor *extract.Extractor,
	rb *report.Builder,
	logger *slog.Logger,
) *Fetcher {
	return &Fetcher{
		receiver:  recv,
		extractor: extractor,
		report:    rb,
		logger:    logger,
		loc:       time.Local,
	}
}

// Run fetches the messages matching criteria, extracts codes and links and
// saves the report. Connection and authentication errors are returned;
// per-message failures are logged and the run continues.
func (f *Fetcher) Run(ctx context.Context, criteria receiver.Criteria) (Summary, error) {
	var sum Summary

	matched, err := f.receiver.Fetch(ctx, criteria, func(email receiver.Email) {
		f.process(email, &sum)
	})
	sum.Matched = matched
	if err != nil {
		return sum, err
	}

	if f.report.Len() == 0 {
		f.logger.Debug("no matching messages",
			"window", criteria.Window,
			"matched", sum.Matched,
			"fetched", sum.Fetched,
		)
		return sum, nil
	}

	path, err := f.report.Save()
	if err != nil {
		return sum, fmt.Errorf("save report: %w", err)
	}
	sum.Path = path

	f.logger.Info("report saved",
		"path", path,
		"matched", sum.Matched,
		"reported", sum.Reported,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (f *Fetcher) process(email receiver.Email, sum *Summary) {
	if email.Err != nil {
		sum.Failed++
		f.logger.Error("fetch failed", "msg_id", email.ID, "error", email.Err)
		f.report.AddError(email.ID, email.Err)
		return
	}
	sum.Fetched++

	msg, err := mailparse.Parse(email.Content)
	if err != nil {
		sum.Failed++
		f.logger.Warn("parse failed, skipping", "msg_id", email.ID, "error", err)
		return
	}

	result := f.extractor.Extract(msg)
	if result.Empty() {
		f.logger.Debug("nothing extracted", "msg_id", email.ID)
		return
	}

	f.report.Add(report.Entry{
		Sender:     f.header(email.ID, "From", msg.Header.From),
		Recipient:  f.header(email.ID, "To", msg.Header.To),
		Subject:    f.header(email.ID, "Subject", msg.Header.Subject),
		Timestamp:  report.Timestamp(msg.Header.Date, f.loc),
		Extraction: result.Text(),
	})
	sum.Reported++
}

func (f *Fetcher) header(id, name, raw string) string {
	res := decode.Header(raw)
	if res.Fallback {
		f.logger.Debug("header decode fell back", "msg_id", id, "header", name)
	}
	return res.Text
}
