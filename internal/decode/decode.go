// Package decode turns header values and text payloads of arbitrary
// character sets into UTF-8 strings without ever failing.
package decode

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const replacement = "�"

// Result is a best-effort decoded string. Fallback reports that the
// preferred decoding path failed and Text is a substitute.
type Result struct {
	Text     string
	Fallback bool
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Header decodes an RFC 2047 header value that may mix encoded words of
// different charsets with plain text. On any decoding error the raw value
// is returned with Fallback set.
func Header(raw string) Result {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return Result{Text: raw, Fallback: true}
	}
	if !utf8.ValidString(decoded) {
		return Result{Text: strings.ToValidUTF8(decoded, replacement), Fallback: true}
	}
	return Result{Text: decoded}
}

// Payload decodes a text body. UTF-8 is tried first, then GB18030 (a
// superset of GBK). If neither decodes cleanly the bytes are read as UTF-8
// with invalid sequences replaced.
func Payload(b []byte) Result {
	if utf8.Valid(b) {
		return Result{Text: string(b)}
	}
	if out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(b); err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return Result{Text: string(out)}
	}
	return Result{Text: strings.ToValidUTF8(string(b), replacement), Fallback: true}
}
