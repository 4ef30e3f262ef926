package service

import (
	"regexp"
	"strings"
)

// Bidi embedding pair wrapped around each line of a right-to-left target.
const (
	rleMark = "‫" // RIGHT-TO-LEFT EMBEDDING
	pdfMark = "‬" // POP DIRECTIONAL FORMATTING
)

var (
	// Full SRT timecode line the model was told never to produce.
	timecodeLineRe = regexp.MustCompile(`(?m)^\s*\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[,.]\d{3}\s*$`)
	// Stray timestamps left inline, with or without the arrow.
	inlineTimecodeRe = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[,.]\d{3}(\s*-->\s*\d{2}:\d{2}:\d{2}[,.]\d{3})?`)
	// Timestamps the model wrapped in brackets or parentheses.
	bracketTimecodeRe = regexp.MustCompile(`[\[(]\s*\d{1,2}:\d{2}(:\d{2})?([,.]\d{1,3})?\s*[\])]`)
	multiBlankRe      = regexp.MustCompile(`\n{2,}`)

	// Embedding, override and isolate markers; a line that already has one
	// is left alone by WrapRTL.
	bidiMarkers = []string{
		"‪", "‫", "‬", "‭", "‮",
		"⁦", "⁧", "⁨", "⁩",
	}
)

// rtlTargets is the closed set of right-to-left language codes and names.
var rtlTargets = map[string]bool{
	"ar": true, "arabic": true,
	"he": true, "iw": true, "hebrew": true,
	"fa": true, "persian": true, "farsi": true,
	"ur": true, "urdu": true,
	"yi": true, "yiddish": true,
	"ps": true, "pashto": true,
	"sd": true, "sindhi": true,
	"ckb": true, "kurdish": true,
}

// CleanTranslatedText strips embedded timecodes from a translated entry
// and normalizes line breaks to LF. A second pass removes stray full-line,
// inline and bracketed timestamps and collapses the blank lines left
// behind.
func CleanTranslatedText(text string) string {
	text = normalizeNewlines(text)
	text = timecodeLineRe.ReplaceAllString(text, "")
	text = inlineTimecodeRe.ReplaceAllString(text, "")
	text = bracketTimecodeRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = multiBlankRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// IsRTLTarget reports whether the target language is in the closed
// right-to-left set. Matches full codes/names and the primary subtag of
// forms like "ar-SA".
func IsRTLTarget(language string) bool {
	lang := strings.ToLower(strings.TrimSpace(language))
	if rtlTargets[lang] {
		return true
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return rtlTargets[lang[:i]]
	}
	return false
}

// WrapRTL wraps each non-empty line with the RLE/PDF pair unless the line
// already carries a bidi marker.
func WrapRTL(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if containsBidiMarker(line) {
			continue
		}
		lines[i] = rleMark + line + pdfMark
	}
	return strings.Join(lines, "\n")
}

func containsBidiMarker(line string) bool {
	for _, m := range bidiMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
