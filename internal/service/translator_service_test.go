package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sublingo/internal/cache"
	"sublingo/internal/model"
	"sublingo/internal/service/ai"
	"sublingo/internal/service/ai/mock"
	"sublingo/internal/subtitle"
)

var payloadEntryRe = regexp.MustCompile(`(?m)^(\d+)\. (.+)$`)

// echoTranslate answers any numbered payload with "N. prefix<source>".
func echoTranslate(prefix string) func(ctx context.Context, req ai.Request) (string, error) {
	return func(_ context.Context, req ai.Request) (string, error) {
		var b strings.Builder
		for _, m := range payloadEntryRe.FindAllStringSubmatch(req.Text, -1) {
			fmt.Fprintf(&b, "%s. %s%s\n\n", m[1], prefix, m[2])
		}
		return b.String(), nil
	}
}

func sampleDoc(n int) subtitle.Document {
	doc := make(subtitle.Document, n)
	for i := range doc {
		doc[i] = subtitle.Entry{
			ID:       i + 1,
			Timecode: fmt.Sprintf("00:00:%02d,000 --> 00:00:%02d,500", i+1, i+1),
			Text:     fmt.Sprintf("line %d", i+1),
		}
	}
	return doc
}

func newEngine(primary, fallback ai.Provider, opts Options) *TranslatorService {
	opts.NoInterBatchDelay = true
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = "French"
	}
	return NewTranslatorService(primary, fallback, cache.New(100, true), nil, opts)
}

func TestTranslatePreservesStructure(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("FR ")}
	svc := newEngine(p, nil, Options{})

	doc := sampleDoc(3)
	out, err := svc.Translate(context.Background(), doc, nil)
	require.NoError(t, err)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		require.Equal(t, doc[i].ID, e.ID)
		require.Equal(t, doc[i].Timecode, e.Timecode)
		require.Equal(t, "FR "+doc[i].Text, e.Text)
	}
	require.Equal(t, 1, p.CallCount())
}

func TestTranslateEmptyDocument(t *testing.T) {
	svc := newEngine(&mock.Provider{}, nil, Options{})
	_, err := svc.Translate(context.Background(), subtitle.Document{}, nil)
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestTranslateRequiresTargetLanguage(t *testing.T) {
	svc := NewTranslatorService(&mock.Provider{}, nil, cache.New(10, true), nil, Options{NoInterBatchDelay: true})
	_, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestTranslateBatchesBySize(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{BatchSizeOverride: 2})

	out, err := svc.Translate(context.Background(), sampleDoc(5), nil)
	require.NoError(t, err)
	require.Equal(t, 3, p.CallCount())

	calls := p.Calls()
	require.Contains(t, calls[0].Text, "BATCH 1/3")
	require.Contains(t, calls[2].Text, "BATCH 3/3")
	// Entries are renumbered from 1 within each batch.
	require.Contains(t, calls[1].Text, "1. line 3")
	require.Contains(t, calls[1].Text, "2. line 4")

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, "line 5", got[4].Text)
}

func TestTranslateMissingEntriesFallBackToSource(t *testing.T) {
	p := &mock.Provider{TranslateFunc: func(_ context.Context, _ ai.Request) (string, error) {
		return "1. un\n\n3. trois\n\n", nil
	}}
	svc := newEngine(p, nil, Options{})

	out, err := svc.Translate(context.Background(), sampleDoc(3), nil)
	require.NoError(t, err)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "un", got[0].Text)
	require.Equal(t, "line 2", got[1].Text) // model skipped it
	require.Equal(t, "trois", got[2].Text)
}

func TestTranslateOverproductionTruncated(t *testing.T) {
	p := &mock.Provider{TranslateFunc: func(_ context.Context, _ ai.Request) (string, error) {
		return "1. a\n\n2. b\n\n3. c\n\n4. extra\n\n", nil
	}}
	svc := newEngine(p, nil, Options{})

	out, err := svc.Translate(context.Background(), sampleDoc(2), nil)
	require.NoError(t, err)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Text)
	require.Equal(t, "b", got[1].Text)
}

func TestTranslateStripsEmbeddedTimecodes(t *testing.T) {
	p := &mock.Provider{TranslateFunc: func(_ context.Context, _ ai.Request) (string, error) {
		return "1. 00:00:01,000 --> 00:00:01,500\nbonjour\n\n", nil
	}}
	svc := newEngine(p, nil, Options{})

	out, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.NoError(t, err)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bonjour", got[0].Text)
	require.Equal(t, "00:00:01,000 --> 00:00:01,500", got[0].Timecode)
}

func TestTranslateRetriesRetryableErrors(t *testing.T) {
	failures := 2
	p := &mock.Provider{}
	p.TranslateFunc = func(ctx context.Context, req ai.Request) (string, error) {
		if failures > 0 {
			failures--
			return "", ai.NewProviderError("mock", ai.KindOverloaded, 503, errors.New("overloaded"))
		}
		return echoTranslate("ok ")(ctx, req)
	}
	svc := newEngine(p, nil, Options{RetryAttempts: 3})

	out, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.NoError(t, err)
	require.Equal(t, 3, p.CallCount())
	require.Contains(t, out, "ok line 1")
}

func TestTranslateProhibitedContentRetriesWithDisclaimer(t *testing.T) {
	p := &mock.Provider{}
	p.TranslateFunc = func(ctx context.Context, req ai.Request) (string, error) {
		if !strings.HasPrefix(req.Prompt, ai.FictionalDisclaimer) {
			return "", ai.NewProviderError("mock", ai.KindProhibitedContent, 0, errors.New("SAFETY"))
		}
		return echoTranslate("")(ctx, req)
	}
	svc := newEngine(p, nil, Options{})

	_, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.NoError(t, err)
	require.Equal(t, 2, p.CallCount())
}

func TestTranslateFallbackProvider(t *testing.T) {
	primary := &mock.Provider{
		NameValue: "primary",
		TranslateFunc: func(_ context.Context, _ ai.Request) (string, error) {
			return "", ai.NewProviderError("primary", ai.KindInvalidResponse, 0, errors.New("garbage"))
		},
	}
	fallback := &mock.Provider{NameValue: "fallback", TranslateFunc: echoTranslate("fb ")}
	svc := newEngine(primary, fallback, Options{})

	out, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, fallback.CallCount())
	require.Contains(t, out, "fb line 1")

	// Fallback receives the same payload and prompt as the primary.
	require.Equal(t, primary.Calls()[0].Text, fallback.Calls()[0].Text)
	require.Equal(t, primary.Calls()[0].Prompt, fallback.Calls()[0].Prompt)
}

func TestTranslateBothProvidersFail(t *testing.T) {
	boom := func(name string) func(context.Context, ai.Request) (string, error) {
		return func(_ context.Context, _ ai.Request) (string, error) {
			return "", ai.NewProviderError(name, ai.KindOther, 500, errors.New("boom"))
		}
	}
	svc := newEngine(
		&mock.Provider{NameValue: "primary", TranslateFunc: boom("primary")},
		&mock.Provider{NameValue: "fallback", TranslateFunc: boom("fallback")},
		Options{},
	)

	_, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.Error(t, err)

	var be *BatchError
	require.ErrorAs(t, err, &be)
	require.Equal(t, 1, be.Batch)

	var mpe *ai.MultiProviderError
	require.ErrorAs(t, err, &mpe)
	require.Error(t, mpe.Primary)
	require.Error(t, mpe.Fallback)
}

func TestTranslateServesRepeatFromCache(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("c ")}
	translationCache := cache.New(100, true)
	svc := NewTranslatorService(p, nil, translationCache, nil, Options{
		TargetLanguage:    "French",
		NoInterBatchDelay: true,
	})

	doc := sampleDoc(3)
	first, err := svc.Translate(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.CallCount())
	// One cache entry per translated entry, each under its own key.
	require.Equal(t, 3, translationCache.Len())
	for _, e := range doc {
		cached, ok := translationCache.Get(cache.Key(e.Text, "French", ""))
		require.True(t, ok)
		require.Equal(t, "c "+e.Text, cached)
	}

	second, err := svc.Translate(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.CallCount(), "full cache hit must skip the provider")
	require.Equal(t, first, second)
}

func TestTranslateTokenBudgetSplitsBatch(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{MaxTokensPerBatch: 1})

	out, err := svc.Translate(context.Background(), sampleDoc(4), nil)
	require.NoError(t, err)
	// Halving bottoms out at one entry per call.
	require.Equal(t, 4, p.CallCount())

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, e := range got {
		require.Equal(t, fmt.Sprintf("line %d", i+1), e.Text)
	}
}

func TestTranslateSingleBatchModeChunksByTokens(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{
		SingleBatchMode:           true,
		SingleBatchMaxChunkTokens: 10,
	})

	out, err := svc.Translate(context.Background(), sampleDoc(4), nil)
	require.NoError(t, err)
	require.Greater(t, p.CallCount(), 1)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 4)
}

func TestTranslateSingleBatchModeWithinBudget(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{SingleBatchMode: true})

	_, err := svc.Translate(context.Background(), sampleDoc(4), nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.CallCount())
}

func TestTranslateTimestampMode(t *testing.T) {
	p := &mock.Provider{TranslateFunc: func(_ context.Context, req ai.Request) (string, error) {
		doc, err := subtitle.Parse([]byte(strings.TrimPrefix(req.Text, ai.BatchHeader(1, 1))))
		if err != nil {
			return "", err
		}
		for i := range doc {
			doc[i].Text = "T " + doc[i].Text
			doc[i].Timecode = strings.Replace(doc[i].Timecode, ",000", ",100", 1)
		}
		return subtitle.Serialize(doc), nil
	}}
	svc := newEngine(p, nil, Options{SendTimestampsToAI: true})

	out, err := svc.Translate(context.Background(), sampleDoc(2), nil)
	require.NoError(t, err)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "T line 1", got[0].Text)
	// Timestamp mode trusts the model's timing adjustments.
	require.Equal(t, "00:00:01,100 --> 00:00:01,500", got[0].Timecode)
}

func TestTranslateRTLWrapping(t *testing.T) {
	p := &mock.Provider{TranslateFunc: func(_ context.Context, _ ai.Request) (string, error) {
		return "1. مرحبا\n\n", nil
	}}
	svc := newEngine(p, nil, Options{TargetLanguage: "ar"})

	out, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.NoError(t, err)

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, strings.HasPrefix(got[0].Text, "‫"))
	require.True(t, strings.HasSuffix(got[0].Text, "‬"))
}

func TestTranslateBatchContextSection(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{
		BatchSizeOverride:  2,
		EnableBatchContext: true,
		ContextSize:        2,
	})

	_, err := svc.Translate(context.Background(), sampleDoc(4), nil)
	require.NoError(t, err)
	require.Equal(t, 2, p.CallCount())

	calls := p.Calls()
	require.NotContains(t, calls[0].Text, "<reference_context>")
	require.Contains(t, calls[1].Text, "<reference_context>")
	require.Contains(t, calls[1].Text, "line 2")
}

func TestTranslateProgressEvents(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{BatchSizeOverride: 2})

	var events []model.ProgressEvent
	_, err := svc.Translate(context.Background(), sampleDoc(5), func(ev model.ProgressEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 3)

	var lastSeq int64
	for _, ev := range events {
		require.Greater(t, ev.StreamSequence, lastSeq)
		lastSeq = ev.StreamSequence
		require.Equal(t, 5, ev.TotalEntries)
		require.Equal(t, 3, ev.TotalBatches)
		require.False(t, ev.Streaming)
	}
	require.Equal(t, 5, events[2].CompletedEntries)

	partial, err := subtitle.Parse([]byte(events[0].PartialDocument))
	require.NoError(t, err)
	require.Len(t, partial, 2)
	require.Equal(t, 1, partial[0].ID)
}

func TestTranslateProgressErrorAbortsRun(t *testing.T) {
	p := &mock.Provider{TranslateFunc: echoTranslate("")}
	svc := newEngine(p, nil, Options{BatchSizeOverride: 1})

	stop := errors.New("listener gone")
	_, err := svc.Translate(context.Background(), sampleDoc(3), func(model.ProgressEvent) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, p.CallCount())
}

func TestTranslateStreamingProgress(t *testing.T) {
	p := &mock.StreamProvider{}
	p.StreamFunc = func(_ context.Context, req ai.Request, onPartial ai.PartialFunc) (string, error) {
		full := "1. un\n\n2. deux\n\n3. trois\n\n"
		for _, chunk := range []string{"1. un\n\n2. de", "ux\n\n3. tro", "is\n\n"} {
			onPartial(chunk)
		}
		return full, nil
	}
	svc := newEngine(p, nil, Options{EnableStreaming: true})

	var streaming []model.ProgressEvent
	out, err := svc.Translate(context.Background(), sampleDoc(3), func(ev model.ProgressEvent) error {
		if ev.Streaming {
			streaming = append(streaming, ev)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, p.StreamCallCount())
	require.NotEmpty(t, streaming)

	var lastSeq int64
	lastCompleted := -1
	for _, ev := range streaming {
		require.Greater(t, ev.StreamSequence, lastSeq)
		lastSeq = ev.StreamSequence
		require.GreaterOrEqual(t, ev.CompletedEntries, lastCompleted)
		lastCompleted = ev.CompletedEntries

		partial, perr := subtitle.Parse([]byte(ev.PartialDocument))
		require.NoError(t, perr)
		for i, e := range partial {
			require.Equal(t, i+1, e.ID)
		}
	}

	got, err := subtitle.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "deux", got[1].Text)
}

func TestTranslateStreamingMaxTokensFallsBackToBlocking(t *testing.T) {
	p := &mock.StreamProvider{}
	p.StreamFunc = func(_ context.Context, _ ai.Request, _ ai.PartialFunc) (string, error) {
		return "", ai.NewProviderError("mock", ai.KindMaxTokens, 0, errors.New("MAX_TOKENS"))
	}
	p.TranslateFunc = echoTranslate("b ")
	svc := newEngine(p, nil, Options{EnableStreaming: true})

	out, err := svc.Translate(context.Background(), sampleDoc(1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.StreamCallCount())
	require.Equal(t, 1, p.CallCount())
	require.Contains(t, out, "b line 1")
}

func TestTranslateContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{TranslateFunc: func(_ context.Context, req ai.Request) (string, error) {
		cancel()
		return echoTranslate("")(context.Background(), req)
	}}
	svc := newEngine(p, nil, Options{BatchSizeOverride: 1})

	_, err := svc.Translate(ctx, sampleDoc(3), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, p.CallCount())
}
