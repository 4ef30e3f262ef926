package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sublingo/internal/cache"
	"sublingo/internal/logger"
	"sublingo/internal/model"
	"sublingo/internal/service/ai"
	"sublingo/internal/subtitle"
)

// ProgressFunc receives progress events during a translation run. The
// engine awaits each invocation; returning an error aborts the run.
type ProgressFunc func(model.ProgressEvent) error

// TranslatorService turns a subtitle document into a translated one by
// delegating batches to a provider, preserving structure and emitting
// progress. Each Translate call is a self-contained run; the service
// itself holds only configuration and shared collaborators.
type TranslatorService struct {
	primary     ai.Provider
	primaryCaps ai.Capabilities
	fallback    ai.Provider
	cache       *cache.TranslationCache
	limiter     *ai.RateLimiter
	opts        Options
	parser      ResponseParser
}

// NewTranslatorService creates an engine bound to a primary provider, an
// optional fallback, the shared translation cache and rate limiter.
// Optional provider capabilities are detected once here.
func NewTranslatorService(primary, fallback ai.Provider, translationCache *cache.TranslationCache, limiter *ai.RateLimiter, opts Options) *TranslatorService {
	return &TranslatorService{
		primary:     primary,
		primaryCaps: ai.DetectCapabilities(primary),
		fallback:    fallback,
		cache:       translationCache,
		limiter:     limiter,
		opts:        opts.withDefaults(),
		parser:      ResponseParser{TimestampMode: opts.SendTimestampsToAI},
	}
}

// batchSlice is a contiguous slice of the source document dispatched in
// one provider call.
type batchSlice struct {
	start   int // global index of the first entry
	entries subtitle.Document
	chunked bool // produced by token splitting; carries no context
}

// translationRun is the per-call state of one translation.
type translationRun struct {
	source       subtitle.Document
	results      []string // translated text per global index, "" = pending
	timecodes    []string // output timecode per global index
	done         []bool
	completed    int
	streamSeq    int64
	currentBatch int
	totalBatches int
	onProgress   ProgressFunc
	progressErr  error
	cancel       context.CancelFunc
}

// Translate translates doc into the configured target language and
// returns the serialized result. Guarantees on success: same entry count,
// ids preserved, timecodes preserved (unless timestamps-to-AI mode),
// sanitized text with no embedded timecodes; entries the model dropped are
// passed through as source text.
func (s *TranslatorService) Translate(ctx context.Context, doc subtitle.Document, onProgress ProgressFunc) (string, error) {
	if len(doc) == 0 {
		return "", ErrEmptyDocument
	}
	if s.opts.TargetLanguage == "" {
		return "", fmt.Errorf("%w: target language is required", ErrInvalid)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	doc = doc.Clone()
	batches := s.partition(ctx, doc)

	run := &translationRun{
		source:       doc,
		results:      make([]string, len(doc)),
		timecodes:    make([]string, len(doc)),
		done:         make([]bool, len(doc)),
		totalBatches: len(batches),
		onProgress:   onProgress,
		cancel:       cancel,
	}
	for i, e := range doc {
		run.timecodes[i] = e.Timecode
	}

	logger.Info("translation started", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
		"entries", len(doc), "batches", len(batches), "target", s.opts.TargetLanguage, "provider", s.primary.Name())

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		run.currentBatch = i + 1

		if err := s.processOuterBatch(ctx, run, b); err != nil {
			if run.progressErr != nil {
				return "", run.progressErr
			}
			return "", newBatchError(run.currentBatch, err)
		}
		if run.progressErr != nil {
			return "", run.progressErr
		}

		if i < len(batches)-1 && s.opts.InterBatchDelay > 0 {
			select {
			case <-time.After(s.opts.InterBatchDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	out := make(subtitle.Document, len(doc))
	for i, e := range doc {
		out[i] = subtitle.Entry{ID: e.ID, Timecode: run.timecodes[i], Text: run.results[i]}
	}

	hits, misses := s.cache.Stats()
	logger.Info("translation finished", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
		"entries", len(out), "cache_hits", hits, "cache_misses", misses)

	return subtitle.Serialize(out), nil
}

// partition splits the document into outer batches: by entry count in the
// default mode, by token budget in single-batch mode.
func (s *TranslatorService) partition(ctx context.Context, doc subtitle.Document) []batchSlice {
	if s.opts.SingleBatchMode {
		return s.partitionByTokens(ctx, doc)
	}

	size := s.opts.batchSize()
	var out []batchSlice
	for start := 0; start < len(doc); start += size {
		end := min(start+size, len(doc))
		out = append(out, batchSlice{start: start, entries: doc[start:end]})
	}
	return out
}

// partitionByTokens treats the whole document as one batch, counts its
// tokens (authoritatively when the provider can) and splits into
// contiguous chunks when the estimate exceeds the soft limit.
func (s *TranslatorService) partitionByTokens(ctx context.Context, doc subtitle.Document) []batchSlice {
	payload := s.renderPayload(doc, 1, 1, "")
	prompt := s.systemPrompt(len(doc))
	tokens := s.countTokens(ctx, payload, prompt)

	soft := int(singleBatchSoftLimitFactor * float64(s.opts.SingleBatchMaxChunkTokens))
	if soft < 1 {
		soft = 1
	}
	if tokens <= soft {
		return []batchSlice{{start: 0, entries: doc}}
	}

	chunks := (tokens + soft - 1) / soft
	if chunks > len(doc) {
		chunks = len(doc)
	}
	if chunks < 1 {
		chunks = 1
	}
	logger.Info("single batch split by token budget", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
		"tokens", tokens, "soft_limit", soft, "chunks", chunks)

	per := (len(doc) + chunks - 1) / chunks
	var out []batchSlice
	for start := 0; start < len(doc); start += per {
		end := min(start+per, len(doc))
		out = append(out, batchSlice{start: start, entries: doc[start:end], chunked: true})
	}
	return out
}

// countTokens prefers the provider's authoritative count, then the
// heuristic applied to what the provider says it would actually send.
func (s *TranslatorService) countTokens(ctx context.Context, payload, prompt string) int {
	if s.primaryCaps.CountTokens != nil {
		n, err := s.primaryCaps.CountTokens(ctx, payload, s.opts.TargetLanguage, prompt)
		if err == nil && n > 0 {
			return n
		}
		logger.Debug("authoritative token count unavailable", "module", "service", "action", "translate", "resource", "subtitle", "result", "failed", "error", err)
	}
	if s.primaryCaps.BuildUserPrompt != nil {
		preview := s.primaryCaps.BuildUserPrompt(payload, s.opts.TargetLanguage, prompt)
		return s.primary.EstimateTokens(preview.SystemPrompt + "\n" + preview.UserPrompt)
	}
	return s.primary.EstimateTokens(prompt + "\n" + payload)
}

// processOuterBatch runs one outer batch through an iterative worklist so
// token-budget splits never recurse. Splits are processed sequentially and
// in order to keep peak memory bounded.
func (s *TranslatorService) processOuterBatch(ctx context.Context, run *translationRun, b batchSlice) error {
	work := []batchSlice{b}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]

		if !s.opts.SingleBatchMode && len(cur.entries) > 1 {
			payload := s.renderPayload(cur.entries, run.currentBatch, run.totalBatches, "")
			if tokens := s.countTokens(ctx, payload, s.systemPrompt(len(cur.entries))); tokens > s.opts.MaxTokensPerBatch {
				half := len(cur.entries) / 2
				left := batchSlice{start: cur.start, entries: cur.entries[:half], chunked: true}
				right := batchSlice{start: cur.start + half, entries: cur.entries[half:], chunked: true}
				work = append([]batchSlice{left, right}, work...)
				logger.Debug("batch split by token budget", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
					"batch", run.currentBatch, "tokens", tokens, "size", len(cur.entries))
				continue
			}
		}

		if err := s.processBatch(ctx, run, cur); err != nil {
			return err
		}
		if run.progressErr != nil {
			return run.progressErr
		}
	}
	return nil
}

// processBatch dispatches one batch (or chunk) and merges its results.
func (s *TranslatorService) processBatch(ctx context.Context, run *translationRun, cur batchSlice) error {
	n := len(cur.entries)

	// Every entry needs its key regardless of hit state: a dispatched
	// batch stores its results under these keys afterwards.
	keys := make([]string, n)
	for i, e := range cur.entries {
		keys[i] = cache.Key(e.Text, s.opts.TargetLanguage, s.opts.CustomPrompt)
	}

	// Cache-first: when every entry hits, the provider is skipped.
	cachedAll := s.cache.Enabled()
	cached := make([]string, n)
	for i := range keys {
		if !cachedAll {
			break
		}
		v, ok := s.cache.Get(keys[i])
		if !ok {
			cachedAll = false
			break
		}
		cached[i] = v
	}
	if cachedAll {
		for i := range cur.entries {
			run.results[cur.start+i] = cached[i]
			run.done[cur.start+i] = true
		}
		run.completed += n
		s.emitBatchProgress(run)
		logger.Debug("batch served from cache", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
			"batch", run.currentBatch, "entries", n, "cache", "hit")
		return nil
	}

	contextSection := ""
	if s.opts.EnableBatchContext && !cur.chunked && cur.start > 0 && !s.opts.SendTimestampsToAI {
		contextSection = s.buildContext(run, cur.start)
	}
	payload := s.renderPayload(cur.entries, run.currentBatch, run.totalBatches, contextSection)
	prompt := s.systemPrompt(n)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	raw, err := s.dispatch(ctx, run, cur, payload, prompt)
	if err != nil {
		return err
	}

	s.mergeResponse(run, cur, raw, keys)
	run.completed += n
	s.emitBatchProgress(run)
	return nil
}

// dispatch calls the primary provider with the retry ladder, then the
// fallback with the same payload and prompt.
func (s *TranslatorService) dispatch(ctx context.Context, run *translationRun, cur batchSlice, payload, prompt string) (string, error) {
	req := ai.Request{
		Text:           payload,
		TargetLanguage: s.opts.TargetLanguage,
		Prompt:         prompt,
	}
	streaming := s.opts.EnableStreaming && s.primaryCaps.TranslateStream != nil

	raw, err := s.callPrimary(ctx, run, cur, req, streaming)
	if err == nil {
		return raw, nil
	}

	pe, _ := ai.AsProviderError(err)
	if pe != nil && !pe.Logged {
		logger.Warn("primary provider failed", "module", "service", "action", "translate", "resource", "ai", "result", "failed",
			"batch", run.currentBatch, "provider", s.primary.Name(), "kind", string(pe.Kind), "error", err)
		pe.Logged = true
	}

	if s.fallback == nil {
		return "", err
	}

	raw, ferr := s.fallback.Translate(ctx, req)
	if ferr != nil {
		logger.Error("fallback provider failed", "module", "service", "action", "translate", "resource", "ai", "result", "failed",
			"batch", run.currentBatch, "provider", s.fallback.Name(), "error", ferr)
		return "", &ai.MultiProviderError{Primary: err, Fallback: ferr}
	}
	logger.Info("fallback provider succeeded", "module", "service", "action", "translate", "resource", "ai", "result", "ok",
		"batch", run.currentBatch, "provider", s.fallback.Name())
	return raw, nil
}

// callPrimary implements the per-batch retry ladder:
// MaxTokens -> one non-streaming retry with the same prompt;
// ProhibitedContent -> one retry with the fictional-content disclaimer;
// empty stream -> one non-streaming retry;
// retryable kinds -> re-invoke up to the configured attempt count.
func (s *TranslatorService) callPrimary(ctx context.Context, run *translationRun, cur batchSlice, req ai.Request, streaming bool) (string, error) {
	call := func(r ai.Request, stream bool) (string, error) {
		if stream {
			return s.primaryCaps.TranslateStream(ctx, r, s.partialHandler(run, cur))
		}
		return s.primary.Translate(ctx, r)
	}

	raw, err := call(req, streaming)
	for attempt := 1; err != nil && ai.IsRetryable(err) && attempt < s.opts.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("retrying batch", "module", "service", "action", "translate", "resource", "ai", "result", "failed",
			"batch", run.currentBatch, "attempt", attempt+1, "kind", string(ai.KindOf(err)))
		raw, err = call(req, streaming)
	}
	if err == nil {
		return raw, nil
	}

	switch ai.KindOf(err) {
	case ai.KindMaxTokens:
		logger.Warn("max tokens reached, retrying non-streaming", "module", "service", "action", "translate", "resource", "ai", "result", "failed", "batch", run.currentBatch)
		return call(req, false)
	case ai.KindProhibitedContent:
		logger.Warn("content blocked, retrying with disclaimer", "module", "service", "action", "translate", "resource", "ai", "result", "failed", "batch", run.currentBatch)
		retry := req
		retry.Prompt = ai.FictionalDisclaimer + req.Prompt
		return call(retry, streaming)
	case ai.KindNoContent:
		if streaming {
			logger.Warn("stream returned no content, retrying non-streaming", "module", "service", "action", "translate", "resource", "ai", "result", "failed", "batch", run.currentBatch)
			return call(req, false)
		}
	}
	return "", err
}

// partialHandler aggregates streaming chunks: whenever the accumulated
// text yields new complete entries, a progress event goes out with a
// renumbered partial document and the next stream sequence.
func (s *TranslatorService) partialHandler(run *translationRun, cur batchSlice) ai.PartialFunc {
	if run.onProgress == nil {
		return nil
	}
	var acc strings.Builder
	emitted := 0
	return func(chunk string) {
		if run.progressErr != nil {
			return
		}
		acc.WriteString(chunk)
		parsed := s.parser.Parse(acc.String(), len(cur.entries))
		complete := len(parsed)
		if complete > 0 {
			complete-- // the last entry may still be growing
		}
		if complete <= emitted {
			return
		}
		emitted = complete
		s.emitStreamingProgress(run, cur, parsed[:complete])
	}
}

// emitStreamingProgress builds the partial document: finalized entries
// from prior batches merged with the current batch's partial entries,
// renumbered consecutively from 1.
func (s *TranslatorService) emitStreamingProgress(run *translationRun, cur batchSlice, partial []ParsedEntry) {
	texts := make([]string, len(run.source))
	have := make([]bool, len(run.source))
	for i := range run.source {
		if run.done[i] {
			texts[i] = run.results[i]
			have[i] = true
		}
	}
	for _, p := range partial {
		if p.Index < 1 || p.Index > len(cur.entries) {
			continue
		}
		g := cur.start + p.Index - 1
		texts[g] = s.sanitize(p.Text)
		have[g] = true
	}

	var doc subtitle.Document
	next := 1
	completed := 0
	for i := range run.source {
		if !have[i] {
			continue
		}
		completed++
		doc = append(doc, subtitle.Entry{ID: next, Timecode: run.timecodes[i], Text: texts[i]})
		next++
	}
	if completed < run.completed {
		completed = run.completed
	}

	run.streamSeq++
	ev := model.ProgressEvent{
		TotalEntries:     len(run.source),
		CompletedEntries: completed,
		CurrentBatch:     run.currentBatch,
		TotalBatches:     run.totalBatches,
		PartialDocument:  subtitle.Serialize(doc),
		Streaming:        true,
		StreamSequence:   run.streamSeq,
	}
	if err := run.onProgress(ev); err != nil {
		run.progressErr = err
		run.cancel()
	}
}

// emitBatchProgress reports batch completion. The partial document
// contains every finalized entry so far, renumbered from 1.
func (s *TranslatorService) emitBatchProgress(run *translationRun) {
	if run.onProgress == nil {
		return
	}

	var doc subtitle.Document
	next := 1
	for i := range run.source {
		if !run.done[i] {
			continue
		}
		doc = append(doc, subtitle.Entry{ID: next, Timecode: run.timecodes[i], Text: run.results[i]})
		next++
	}

	run.streamSeq++
	ev := model.ProgressEvent{
		TotalEntries:     len(run.source),
		CompletedEntries: run.completed,
		CurrentBatch:     run.currentBatch,
		TotalBatches:     run.totalBatches,
		PartialDocument:  subtitle.Serialize(doc),
		Streaming:        false,
		StreamSequence:   run.streamSeq,
	}
	if err := run.onProgress(ev); err != nil {
		run.progressErr = err
		run.cancel()
	}
}

// mergeResponse reconciles the parsed response against the batch: missing
// indexes fall back to source text, extra entries are truncated and
// reindexed, every translated text is sanitized and cached.
func (s *TranslatorService) mergeResponse(run *translationRun, cur batchSlice, raw string, keys []string) {
	n := len(cur.entries)
	parsed := s.parser.Parse(raw, n)

	if len(parsed) > n {
		logger.Warn("model overproduced entries, truncating", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
			"batch", run.currentBatch, "expected", n, "got", len(parsed))
		parsed = parsed[:n]
		for i := range parsed {
			parsed[i].Index = i + 1
		}
	}

	byIndex := make(map[int]ParsedEntry, len(parsed))
	for _, p := range parsed {
		if p.Index < 1 || p.Index > n {
			continue
		}
		if _, dup := byIndex[p.Index]; dup {
			continue
		}
		byIndex[p.Index] = p
	}

	missing := 0
	for i := 0; i < n; i++ {
		g := cur.start + i
		p, ok := byIndex[i+1]
		text := ""
		if ok {
			text = s.sanitize(p.Text)
		}
		if text == "" {
			// Never fail the batch: pass the source text through.
			run.results[g] = cur.entries[i].Text
			run.done[g] = true
			missing++
			continue
		}
		run.results[g] = text
		run.done[g] = true
		if s.opts.SendTimestampsToAI && p.Timecode != "" {
			run.timecodes[g] = p.Timecode
		}
		s.cache.Put(keys[i], text)
	}
	if missing > 0 {
		logger.Warn("model underproduced entries, keeping source text", "module", "service", "action", "translate", "resource", "subtitle", "result", "ok",
			"batch", run.currentBatch, "missing", missing, "expected", n)
	}
}

// sanitize cleans a translated entry and applies RTL wrapping. The
// caller decides what to do with an entry that cleans down to nothing.
func (s *TranslatorService) sanitize(text string) string {
	text = CleanTranslatedText(text)
	if text == "" {
		return ""
	}
	if IsRTLTarget(s.opts.TargetLanguage) {
		text = WrapRTL(text)
	}
	return text
}

// renderPayload renders a batch in the active prompt format, prefixed
// with the batch header and optional context section.
func (s *TranslatorService) renderPayload(entries subtitle.Document, batchIndex, batchTotal int, contextSection string) string {
	var b strings.Builder
	b.WriteString(ai.BatchHeader(batchIndex, batchTotal))
	b.WriteString(contextSection)

	if s.opts.SendTimestampsToAI {
		b.WriteString(subtitle.Serialize(entries))
		return b.String()
	}

	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(e.Text)
	}
	return b.String()
}

func (s *TranslatorService) systemPrompt(entryCount int) string {
	var base string
	if s.opts.SendTimestampsToAI {
		base = ai.GetTimestampPrompt(s.opts.TargetLanguage)
	} else {
		base = ai.GetNumberedPrompt(s.opts.TargetLanguage, entryCount)
	}
	return ai.ApplyCustomPrompt(base, s.opts.CustomPrompt, s.opts.TargetLanguage)
}

// buildContext collects the last K source and translated lines preceding
// start for the reference section.
func (s *TranslatorService) buildContext(run *translationRun, start int) string {
	k := s.opts.ContextSize
	from := max(0, start-k)

	var prevSource, prevTranslated []string
	for i := from; i < start; i++ {
		prevSource = append(prevSource, run.source[i].Text)
		if run.done[i] && run.results[i] != "" {
			prevTranslated = append(prevTranslated, run.results[i])
		}
	}
	return ai.BuildContextSection(prevSource, prevTranslated)
}
