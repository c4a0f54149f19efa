// Package report renders reported messages as text blocks, mirrors them to
// the console and saves them to a timestamped file.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ErrEmpty is returned by Save when no block was added.
var ErrEmpty = errors.New("report is empty")

// DefaultDir is where report files are written unless configured otherwise.
const DefaultDir = "email_results"

const unknown = "unknown"

var separator = strings.Repeat("=", 50)

// Entry is one reported message with its headers already decoded.
type Entry struct {
	Sender     string
	Recipient  string
	Subject    string
	Timestamp  string
	Extraction string
}

// Builder accumulates report blocks in the order they are added. It is
// not safe for concurrent use.
type Builder struct {
	dir string
	out io.Writer
	now func() time.Time

	blocks []string
}

// New creates a Builder that prints to out and saves under dir.
func New(dir string, out io.Writer) *Builder {
	if dir == "" {
		dir = DefaultDir
	}
	return &Builder{
		dir: dir,
		out: out,
		now: time.Now,
	}
}

// Add formats e as a block, prints it and keeps it for Save.
func (b *Builder) Add(e Entry) {
	b.append(Format(e))
}

// AddError records a message that could not be retrieved.
func (b *Builder) AddError(id string, err error) {
	b.append(fmt.Sprintf("\n处理邮件时出错 (%s): %v\n", id, err))
}

func (b *Builder) append(block string) {
	fmt.Fprintln(b.out, block)
	b.blocks = append(b.blocks, block)
}

// Len returns the number of blocks added so far.
func (b *Builder) Len() int {
	return len(b.blocks)
}

// Save writes all blocks to a new file named after the current local time
// and returns its path. Nothing is written when the report is empty.
func (b *Builder) Save() (string, error) {
	if len(b.blocks) == 0 {
		return "", ErrEmpty
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	name := filepath.Join(b.dir, fmt.Sprintf("email_results_%s.txt", b.now().Format("20060102_150405")))
	if err := os.WriteFile(name, []byte(strings.Join(b.blocks, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return name, nil
}

// Format renders one report block.
func Format(e Entry) string {
	var sb strings.Builder
	sb.WriteString("\n" + separator + "\n")
	fmt.Fprintf(&sb, "发件人: %s\n", orUnknown(e.Sender))
	fmt.Fprintf(&sb, "收件人: %s\n", orUnknown(e.Recipient))
	fmt.Fprintf(&sb, "主题: %s\n", orUnknown(e.Subject))
	fmt.Fprintf(&sb, "时间: %s\n", orUnknown(e.Timestamp))
	sb.WriteString(separator + "\n")
	sb.WriteString(e.Extraction + "\n")
	sb.WriteString(separator + "\n")
	return sb.String()
}

// Timestamp renders a Date header in loc. Unparseable values are returned
// verbatim; an empty header yields "unknown".
func Timestamp(date string, loc *time.Location) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return unknown
	}
	var h mail.Header
	h.Set("Date", date)
	t, err := h.Date()
	if err != nil {
		return date
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}
