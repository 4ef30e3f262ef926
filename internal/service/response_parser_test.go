package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNumberedBlocks(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1. bonjour\n\n2. le monde\nsur deux lignes\n\n3. fin", 3)
	require.Len(t, got, 3)
	require.Equal(t, 1, got[0].Index)
	require.Equal(t, "bonjour", got[0].Text)
	require.Equal(t, "le monde\nsur deux lignes", got[1].Text)
	require.Equal(t, 3, got[2].Index)
}

func TestParseNumberedMarkerVariants(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1) un\n\n2: deux\n\n3 - trois", 3)
	require.Len(t, got, 3)
	require.Equal(t, "un", got[0].Text)
	require.Equal(t, "deux", got[1].Text)
	require.Equal(t, "trois", got[2].Text)
}

func TestParseNumberedDiscardsCommentary(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("Here are your translations:\n\n1. un\n\n2. deux\n\nHope this helps!", 2)
	require.Len(t, got, 2)
	require.Equal(t, "un", got[0].Text)
	require.Equal(t, "deux", got[1].Text)
}

func TestParseNumberedSingleNewlineFallback(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1. un\n2. deux\n3. trois", 3)
	require.Len(t, got, 3)
	require.Equal(t, 2, got[1].Index)
	require.Equal(t, "deux", got[1].Text)
}

func TestParseNumberedContinuationLines(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1. premiere ligne\nsuite de la ligne\n2. deux", 2)
	require.Len(t, got, 2)
	require.Equal(t, "premiere ligne\nsuite de la ligne", got[0].Text)
}

// A block parser that already produced the expected count must win even
// when entry text itself starts with digits, which would fool the
// line-by-line fallback.
func TestParseNumberedPrefersBlocksWhenComplete(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1. 10 hommes\n\n2. 20 femmes", 2)
	require.Len(t, got, 2)
	require.Equal(t, "10 hommes", got[0].Text)
	require.Equal(t, "20 femmes", got[1].Text)
}

func TestParsePartialResponse(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1. un\n\n2. de", 3)
	require.Len(t, got, 2)
	require.Equal(t, "de", got[1].Text)
}

func TestParseEmpty(t *testing.T) {
	p := ResponseParser{}
	require.Empty(t, p.Parse("", 3))
	require.Empty(t, p.Parse("no numbering at all", 3))
}

func TestParseTimestampMode(t *testing.T) {
	p := ResponseParser{TimestampMode: true}
	text := "1\n00:00:01,000 --> 00:00:02,000\nbonjour\n\n2\n00:00:03,000 --> 00:00:04,000\nle monde\n"
	got := p.Parse(text, 2)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Index)
	require.Equal(t, "00:00:01,000 --> 00:00:02,000", got[0].Timecode)
	require.Equal(t, "bonjour", got[0].Text)
	require.Equal(t, 2, got[1].Index)
}

func TestParseTimestampModePositionalIndex(t *testing.T) {
	// The model renumbered from 7; intra-batch indexes stay positional.
	p := ResponseParser{TimestampMode: true}
	text := "7\n00:00:01,000 --> 00:00:02,000\nsept\n\n8\n00:00:03,000 --> 00:00:04,000\nhuit\n"
	got := p.Parse(text, 2)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Index)
	require.Equal(t, 2, got[1].Index)
}

func TestParseCRLFInput(t *testing.T) {
	p := ResponseParser{}
	got := p.Parse("1. un\r\n\r\n2. deux", 2)
	require.Len(t, got, 2)
	require.Equal(t, "deux", got[1].Text)
}
