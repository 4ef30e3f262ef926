// Package subtitle implements the timed-subtitle wire format the
// translation pipeline depends on: SRT-style blocks of a numeric id, a
// verbatim timecode line, and one or more text lines.
package subtitle

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Entry is a single timed subtitle block. The timecode is kept byte-exact
// as read from the source; text line breaks are LF-only after parsing.
type Entry struct {
	ID       int
	Timecode string
	Text     string
}

// Document is an ordered sequence of entries. Downstream consumers must
// treat it as immutable; use Clone before mutating.
type Document []Entry

// ErrMalformed is returned when the input cannot be interpreted at all.
var ErrMalformed = errors.New("malformed subtitle input")

var blockSplitRe = regexp.MustCompile(`(?:\r?\n){2,}`)

// Parse splits raw subtitle bytes into a Document. Blocks whose first line
// is not a positive integer are skipped so garbage headers and stray
// comments do not fail the whole file. An empty Document is a valid result;
// callers decide whether that is an error.
func Parse(data []byte) (Document, error) {
	if data == nil {
		return nil, ErrMalformed
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var doc Document
	for _, block := range blockSplitRe.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil || id <= 0 {
			continue
		}

		doc = append(doc, Entry{
			ID:       id,
			Timecode: strings.TrimSpace(lines[1]),
			Text:     strings.Join(lines[2:], "\n"),
		})
	}

	return doc, nil
}

// Serialize renders the document back to the wire format: id, timecode and
// text per block, blocks joined by a blank line, trailing newline. CR
// characters in text are stripped.
func Serialize(doc Document) string {
	var b strings.Builder
	for i, e := range doc {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(e.ID))
		b.WriteString("\n")
		b.WriteString(e.Timecode)
		b.WriteString("\n")
		b.WriteString(strings.ReplaceAll(e.Text, "\r", ""))
		b.WriteString("\n")
	}
	return b.String()
}

// Clone returns a deep-enough copy for safe mutation.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	copy(out, d)
	return out
}
