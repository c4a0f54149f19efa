// Package extract finds a verification code and the primary link in the
// rendered HTML of a message.
package extract

import (
	"regexp"
	"strings"

	"github.com/tracyhatemice/mailcode/internal/decode"
	"github.com/tracyhatemice/mailcode/internal/mailparse"
)

// Result is what was found in a message. The zero value means nothing
// actionable was found.
type Result struct {
	Code     string
	LinkURL  string
	LinkText string
}

// Empty reports whether neither a code nor a link was found.
func (r Result) Empty() bool {
	return r.Code == "" && r.LinkURL == ""
}

// Text renders the result as report lines.
func (r Result) Text() string {
	var lines []string
	if r.Code != "" {
		lines = append(lines, "验证码: "+r.Code)
	}
	if r.LinkURL != "" {
		lines = append(lines, "链接: "+r.LinkURL, "链接文本: "+r.LinkText)
	}
	return strings.Join(lines, "\n")
}

// Options tunes where the extractor looks.
type Options struct {
	// ScanPlainText lets messages without an HTML part be scanned through
	// their first text/plain part.
	ScanPlainText bool
}

// Extractor applies the code and link rules to messages. It holds no
// mutable state and is safe for concurrent use.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Extract returns the code and link found in msg.
func (e *Extractor) Extract(msg *mailparse.Message) Result {
	content, ok := e.content(msg)
	if !ok {
		return Result{}
	}
	content = normalize(content)

	var res Result
	res.Code, _ = findCode(content)
	res.LinkURL, res.LinkText, _ = findLink(content)
	return res
}

func (e *Extractor) content(msg *mailparse.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	if part, ok := msg.FirstPart("text/html"); ok {
		return decode.Payload(part.Payload).Text, true
	}
	if e.opts.ScanPlainText {
		if part, ok := msg.FirstPart("text/plain"); ok {
			return decode.Payload(part.Payload).Text, true
		}
	}
	return "", false
}

// whitespace covers Unicode spaces such as NBSP and U+3000, not only ASCII.
var whitespace = regexp.MustCompile(`[\s\p{Z}\v\x{85}]+`)

// normalize collapses whitespace runs to a single ASCII space so patterns
// match across wrapped markup.
func normalize(s string) string {
	return whitespace.ReplaceAllString(s, " ")
}
