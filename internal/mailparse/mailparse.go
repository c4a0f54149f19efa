// Package mailparse turns raw RFC 5322 bytes into a read-only view of the
// headers and leaf content parts needed for extraction and reporting.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	// Register charset decoders (gbk, big5, iso-8859-*, windows-125x, etc.)
	_ "github.com/emersion/go-message/charset"
)

// Header holds the raw, still-encoded header values used downstream.
type Header struct {
	From    string
	To      string
	Subject string
	Date    string
}

// Part is a single non-multipart entity. Payload has its transfer encoding
// removed and, when the charset is known, is converted to UTF-8.
type Part struct {
	ContentType string
	Charset     string
	Payload     []byte
}

// Message is a parsed email. Parts lists leaf entities in depth-first
// order; a single-part message has exactly one Part.
type Message struct {
	Header    Header
	Multipart bool
	Parts     []Part
}

// FirstPart returns the first part whose media type equals contentType.
func (m *Message) FirstPart(contentType string) (Part, bool) {
	for _, p := range m.Parts {
		if p.ContentType == contentType {
			return p, true
		}
	}
	return Part{}, false
}

// Parse reads raw message bytes. Unknown charsets and transfer encodings
// are tolerated: such parts keep their undecoded payload.
func Parse(raw []byte) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isEncodingErr(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	msg := &Message{
		Header: Header{
			From:    entity.Header.Get("From"),
			To:      entity.Header.Get("To"),
			Subject: entity.Header.Get("Subject"),
			Date:    entity.Header.Get("Date"),
		},
	}
	rootType, _ := mediaType(entity)
	msg.Multipart = strings.HasPrefix(rootType, "multipart/")

	err = entity.Walk(func(_ []int, ent *message.Entity, err error) error {
		if err != nil && !isEncodingErr(err) {
			return err
		}
		if ent == nil {
			return nil
		}
		mt, params := mediaType(ent)
		if strings.HasPrefix(mt, "multipart/") {
			return nil
		}
		payload, readErr := io.ReadAll(ent.Body)
		if readErr != nil {
			// Corrupt transfer encoding; the part is unusable.
			return nil
		}
		msg.Parts = append(msg.Parts, Part{
			ContentType: mt,
			Charset:     params["charset"],
			Payload:     payload,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk message parts: %w", err)
	}

	return msg, nil
}

func mediaType(ent *message.Entity) (string, map[string]string) {
	mt, params, err := ent.Header.ContentType()
	if err != nil || mt == "" {
		return "text/plain", params
	}
	return strings.ToLower(mt), params
}

func isEncodingErr(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
