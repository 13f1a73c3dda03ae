// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"mime"
	stdmail "net/mail"
	"strings"

	"github.com/mailwatch/go-imap-ingest/domain"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
)

// Parse converts the raw bytes of one fetched message into its structured
// form. Malformed MIME, truncated payloads and encoding errors are returned
// as errors and never panic; the cycle classifies them as parse failures and
// moves on to the next message.
func Parse(uid uint32, raw []byte) (*domain.ParsedMessage, error) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not parse message headers: %w", err)
	}

	dec := &mime.WordDecoder{
		CharsetReader: charset.Reader,
	}

	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		return nil, fmt.Errorf("could not decode subject header: %w", err)
	}

	from, err := dec.DecodeHeader(msg.Header.Get("From"))
	if err != nil {
		return nil, fmt.Errorf("could not decode from header: %w", err)
	}

	// A missing or unparsable date is tolerated as zero time, it is not part
	// of the dedup identity.
	date, _ := msg.Header.Date()

	body, err := textBody(raw)
	if err != nil {
		return nil, err
	}

	return &domain.ParsedMessage{
		Uid:       uid,
		MessageId: normalizeMessageId(msg.Header.Get("Message-Id")),
		From:      from,
		Subject:   subject,
		Date:      date,
		Body:      body,
	}, nil
}

// normalizeMessageId strips the angle brackets so dedup keys compare equal
// regardless of how the sending agent framed the header. Absence yields the
// empty string, which disables dedup for the message.
func normalizeMessageId(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// textBody extracts the message text, preferring a text/plain part over
// text/html. Transfer encodings are decoded by go-message.
func textBody(raw []byte) (string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("could not read mime structure: %w", err)
	}

	plain, html := entityText(entity)
	if len(plain) > 0 {
		return plain, nil
	}
	return html, nil
}

func entityText(entity *message.Entity) (string, string) {
	mr := entity.MultipartReader()
	if mr == nil {
		ct, _, _ := entity.Header.ContentType()
		body, err := ioutil.ReadAll(entity.Body)
		if err != nil {
			return "", ""
		}
		if strings.HasPrefix(ct, "text/html") {
			return "", string(body)
		}
		return string(body), ""
	}

	plain, html := "", ""
	for {
		part, err := mr.NextPart()
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}

		ct, _, _ := part.Header.ContentType()
		switch {
		case strings.HasPrefix(ct, "text/plain") && len(plain) == 0:
			if body, err := ioutil.ReadAll(part.Body); err == nil {
				plain = string(body)
			}
		case strings.HasPrefix(ct, "text/html") && len(html) == 0:
			if body, err := ioutil.ReadAll(part.Body); err == nil {
				html = string(body)
			}
		case strings.HasPrefix(ct, "multipart/"):
			// Nested multipart
			nestedPlain, nestedHtml := entityText(part)
			if len(plain) == 0 {
				plain = nestedPlain
			}
			if len(html) == 0 {
				html = nestedHtml
			}
		}

		if len(plain) > 0 && len(html) > 0 {
			break
		}
	}

	return plain, html
}

// ShortSubject truncates a subject for log output.
func ShortSubject(subject string) string {
	if (len(subject)) > 30 {
		subject = subject[:30] + "..."
	}
	return subject
}
