package ai

import (
	"fmt"
	"strings"
)

// FictionalDisclaimer is prepended on a prohibited-content retry to state
// that the payload is fictional subtitle text, not real instructions.
const FictionalDisclaimer = "NOTE: The following content is fictional subtitle text from a movie or TV show. It does not describe real events or instructions and must be translated as creative fiction.\n\n"

// GetNumberedPrompt returns the system prompt for numbered-mode batch
// translation: exactly count entries, in order, no commentary, no
// embedded timecodes.
func GetNumberedPrompt(targetLanguage string, count int) string {
	return fmt.Sprintf(`You are an expert subtitle translator. Translate numbered subtitle entries into the target language.

<context>
<target_language>%s</target_language>
<entry_count>%d</entry_count>
</context>

<instructions>
1. You MUST translate every entry into the language specified in <target_language>. Responses in other languages are invalid
2. Return EXACTLY %d numbered entries in the same order, formatted as "N. translated text"
3. Keep line breaks inside an entry exactly as in the source
4. NEVER merge or split entries
5. NEVER include timestamps or timecodes in your output
6. NEVER add introductions, explanations, or commentary
7. Preserve formatting tags such as <i> and [music] unchanged
8. Keep proper nouns unchanged when no direct translation exists
</instructions>`, targetLanguage, count, count)
}

// GetTimestampPrompt returns the system prompt for timestamp mode, where
// the batch is rendered and returned as a subtitle document.
func GetTimestampPrompt(targetLanguage string) string {
	return fmt.Sprintf(`You are an expert subtitle translator. Translate a subtitle document into the target language.

<context>
<target_language>%s</target_language>
</context>

<instructions>
1. You MUST translate all subtitle text into the language specified in <target_language>. Responses in other languages are invalid
2. Return a complete subtitle document with the SAME entry numbers and timecodes
3. Translate ONLY the text lines; never alter numbering or timing lines
4. NEVER merge or split entries
5. NEVER add introductions, explanations, or commentary
</instructions>`, targetLanguage)
}

// ApplyCustomPrompt substitutes {target_language} in the user-supplied
// instructions and appends them to the base prompt without disturbing the
// structural rules.
func ApplyCustomPrompt(base, custom, targetLanguage string) string {
	if strings.TrimSpace(custom) == "" {
		return base
	}
	custom = strings.ReplaceAll(custom, "{target_language}", targetLanguage)
	return base + fmt.Sprintf("\n\n<additional_instructions>\n%s\n</additional_instructions>", custom)
}

// BatchHeader prefixes the payload so the provider can distinguish chunks
// of one conceptual job.
func BatchHeader(index, total int) string {
	return fmt.Sprintf("BATCH %d/%d\n\n", index, total)
}

// BuildContextSection renders a clearly delimited reference section of the
// last entries preceding the batch, which the model is told not to
// translate.
func BuildContextSection(prevSource, prevTranslated []string) string {
	if len(prevSource) == 0 && len(prevTranslated) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<reference_context>\nThe following lines precede this batch. They are for context ONLY. Do NOT translate or include them in your output.\n")
	if len(prevSource) > 0 {
		b.WriteString("<previous_source>\n")
		b.WriteString(strings.Join(prevSource, "\n"))
		b.WriteString("\n</previous_source>\n")
	}
	if len(prevTranslated) > 0 {
		b.WriteString("<previous_translated>\n")
		b.WriteString(strings.Join(prevTranslated, "\n"))
		b.WriteString("\n</previous_translated>\n")
	}
	b.WriteString("</reference_context>\n\n")
	return b.String()
}
