package service

import (
	"regexp"
	"strconv"
	"strings"

	"sublingo/internal/subtitle"
)

// ParsedEntry is the unified record both response-parsing strategies
// return. Index is the 1-based intra-batch position; Timecode is only set
// in timestamp mode.
type ParsedEntry struct {
	Index    int
	Text     string
	Timecode string
}

// ResponseParser centralizes the two strategies for interpreting model
// output: numbered mode ("N. text" blocks) and timestamp mode (a subtitle
// document).
type ResponseParser struct {
	TimestampMode bool
}

var numberedRe = regexp.MustCompile(`^(\d+)[.)\s:\-]+`)

// Parse interprets a (possibly partial) model response. expected is the
// number of entries the batch asked for; pass 0 when unknown.
func (p ResponseParser) Parse(text string, expected int) []ParsedEntry {
	if p.TimestampMode {
		return p.parseTimestamp(text)
	}
	return p.parseNumbered(text, expected)
}

// parseNumbered splits on runs of two-or-more newlines and accepts blocks
// that begin with an index marker. Unnumbered blocks are commentary the
// model was told not to produce and are discarded. When the block parser
// underproduces, a single-newline parser is tried as well and the larger
// result wins.
func (p ResponseParser) parseNumbered(text string, expected int) []ParsedEntry {
	text = normalizeNewlines(text)

	blocks := blockwiseNumbered(text)
	if expected > 0 && len(blocks) >= expected {
		return blocks
	}
	lines := linewiseNumbered(text)
	if len(lines) > len(blocks) {
		return lines
	}
	return blocks
}

func blockwiseNumbered(text string) []ParsedEntry {
	var out []ParsedEntry
	for _, block := range regexp.MustCompile(`\n{2,}`).Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		m := numberedRe.FindStringSubmatch(block)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx <= 0 {
			continue
		}
		out = append(out, ParsedEntry{
			Index: idx,
			Text:  strings.TrimSpace(block[len(m[0]):]),
		})
	}
	return out
}

// linewiseNumbered handles responses where the model separated entries
// with single newlines. Continuation lines are appended to the previous
// entry.
func linewiseNumbered(text string) []ParsedEntry {
	var out []ParsedEntry
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := numberedRe.FindStringSubmatch(trimmed)
		if m == nil {
			if len(out) > 0 {
				out[len(out)-1].Text += "\n" + trimmed
			}
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx <= 0 {
			continue
		}
		out = append(out, ParsedEntry{
			Index: idx,
			Text:  strings.TrimSpace(trimmed[len(m[0]):]),
		})
	}
	return out
}

// parseTimestamp reuses the codec; the intra-batch index is positional.
func (p ResponseParser) parseTimestamp(text string) []ParsedEntry {
	doc, err := subtitle.Parse([]byte(text))
	if err != nil {
		return nil
	}
	out := make([]ParsedEntry, 0, len(doc))
	for i, e := range doc {
		out = append(out, ParsedEntry{
			Index:    i + 1,
			Text:     e.Text,
			Timecode: e.Timecode,
		})
	}
	return out
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
