// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

// RawMessage is the unparsed payload of one message, identified by its UID
// within the selected folder.
type RawMessage struct {
	Uid  uint32
	Body []byte
}

// ParsedMessage is the structured form of one accepted message. MessageId is
// the dedup key; an empty MessageId means the message is never deduplicated
// and will always be treated as new.
type ParsedMessage struct {
	Uid       uint32
	MessageId string
	From      string
	Subject   string
	Date      time.Time
	Body      string
}
