package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sublingo/internal/logger"
	"sublingo/internal/model"
)

// Activity event types delivered to subscribers.
const (
	ActivityEventEpisode = "episode"
	ActivityEventPing    = "ping"
)

// placeholderValues are client-supplied sentinels that carry no
// information. A videoId in this set marks a keepalive report, not a new
// stream; a filename in this set never overwrites a real one.
var placeholderValues = map[string]bool{
	"":                   true,
	"stream and refresh": true,
	"stream & refresh":   true,
	"unknown":            true,
	"unknown title":      true,
}

func isPlaceholder(v string) bool {
	return placeholderValues[strings.ToLower(strings.TrimSpace(v))]
}

// ActivityEvent is one message on a subscription: a stream change or a
// keepalive ping.
type ActivityEvent struct {
	Type  string
	Entry *model.StreamActivityEntry
}

// ActivitySubscription is one listener on a configuration's activity.
// Events stops delivering after Cancel, which is idempotent.
type ActivitySubscription struct {
	Events <-chan ActivityEvent

	cancel func()
}

// Cancel detaches the subscription and closes its event channel.
func (s *ActivitySubscription) Cancel() { s.cancel() }

// ActivityBroadcaster propagates local activity changes to other
// instances. Implemented by the Redis pub/sub bridge; nil means
// single-instance operation.
type ActivityBroadcaster interface {
	Publish(ctx context.Context, rec model.ActivityRecord) error
}

// ActivityOptions bounds the bus.
type ActivityOptions struct {
	MaxEntries           int
	EntryTTL             time.Duration
	Heartbeat            time.Duration
	MaxListenersPerConf  int
	HeartbeatLogInterval time.Duration
}

type activitySubscriber struct {
	ch     chan ActivityEvent
	closed bool
}

// ActivityService tracks the most recent stream per configuration and
// fans changes out to SSE listeners. The latest-activity map is bounded
// by size and age; subscriptions are capped per configuration.
type ActivityService struct {
	opts        ActivityOptions
	broadcaster ActivityBroadcaster

	mu     sync.Mutex
	latest map[string]*model.StreamActivityEntry
	order  []string // LRU order of config hashes, oldest first
	subs   map[string]map[*activitySubscriber]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewActivityService creates the bus and starts its shared heartbeat
// ticker. Close stops it.
func NewActivityService(opts ActivityOptions, broadcaster ActivityBroadcaster) *ActivityService {
	s := &ActivityService{
		opts:        opts,
		broadcaster: broadcaster,
		latest:      make(map[string]*model.StreamActivityEntry),
		subs:        make(map[string]map[*activitySubscriber]struct{}),
		stop:        make(chan struct{}),
	}
	if opts.Heartbeat > 0 {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}
	return s
}

// Close stops the heartbeat and cancels every subscription.
func (s *ActivityService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		for sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	s.subs = make(map[string]map[*activitySubscriber]struct{})
}

// Record stores a locally observed activity report and, on change,
// fans it out to listeners and broadcasts it to other instances.
func (s *ActivityService) Record(ctx context.Context, rec model.ActivityRecord) error {
	return s.record(ctx, rec, true)
}

// ApplyRemote ingests a record received from another instance: local
// listeners are notified but the record is not re-broadcast.
func (s *ActivityService) ApplyRemote(rec model.ActivityRecord) error {
	return s.record(context.Background(), rec, false)
}

func (s *ActivityService) record(ctx context.Context, rec model.ActivityRecord, broadcast bool) error {
	if rec.ConfigHash == "" {
		return fmt.Errorf("%w: configHash is required", ErrInvalid)
	}

	if isPlaceholder(rec.VideoID) {
		// Sentinel videoId: a keepalive, not a stream change. With no
		// prior stream there is nothing to refresh and the report is
		// dropped; with one, only its timestamp moves.
		s.mu.Lock()
		if prior := s.latest[rec.ConfigHash]; prior != nil {
			prior.UpdatedAt = time.Now().UnixMilli()
			s.touchActivityLocked(rec.ConfigHash)
		}
		s.mu.Unlock()
		return nil
	}

	entry := &model.StreamActivityEntry{
		VideoID:      rec.VideoID,
		Filename:     rec.Filename,
		VideoHash:    rec.VideoHash,
		ExternalHash: rec.ExternalHash,
		UpdatedAt:    time.Now().UnixMilli(),
	}

	s.mu.Lock()
	prior := s.latest[rec.ConfigHash]

	// Same stream: inherit anything the new report left blank, and keep a
	// real filename over a placeholder.
	if prior != nil && prior.VideoID == entry.VideoID {
		if isPlaceholder(entry.Filename) && !isPlaceholder(prior.Filename) {
			entry.Filename = prior.Filename
		}
		if entry.VideoHash == "" {
			entry.VideoHash = prior.VideoHash
		}
		if entry.ExternalHash == "" {
			entry.ExternalHash = prior.ExternalHash
		}
	}

	changed := prior == nil ||
		prior.VideoID != entry.VideoID ||
		prior.Filename != entry.Filename ||
		prior.VideoHash != entry.VideoHash ||
		prior.ExternalHash != entry.ExternalHash

	s.pruneLocked()
	s.latest[rec.ConfigHash] = entry
	s.touchActivityLocked(rec.ConfigHash)

	notified := 0
	if changed {
		published := *entry
		notified = s.notifyLocked(rec.ConfigHash, ActivityEvent{Type: ActivityEventEpisode, Entry: &published})
	}
	s.mu.Unlock()

	if !changed {
		// Heartbeat report: only the timestamp moved.
		return nil
	}

	if broadcast && s.broadcaster != nil {
		out := rec
		out.Filename = entry.Filename
		out.VideoHash = entry.VideoHash
		out.ExternalHash = entry.ExternalHash
		if err := s.broadcaster.Publish(ctx, out); err != nil {
			logger.Warn("activity broadcast failed", "module", "service", "action", "publish", "resource", "activity", "result", "failed", "error", err)
		}
	}

	logger.Info("stream activity updated", "module", "service", "action", "record", "resource", "activity", "result", "ok",
		"videoId", entry.VideoID, "listeners", notified, "remote", !broadcast)
	return nil
}

// notifyLocked delivers an event to every listener of a configuration
// without blocking; a listener that cannot keep up loses events rather
// than stalling the bus. Caller holds s.mu.
func (s *ActivityService) notifyLocked(configHash string, ev ActivityEvent) int {
	n := 0
	for sub := range s.subs[configHash] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
			n++
		default:
		}
	}
	return n
}

// Latest returns the most recent activity for a configuration, if the
// entry is still within its TTL.
func (s *ActivityService) Latest(configHash string) (*model.StreamActivityEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.latest[configHash]
	if !ok {
		return nil, false
	}
	if s.expiredActivityLocked(entry) {
		s.removeActivityLocked(configHash)
		return nil, false
	}
	out := *entry
	return &out, true
}

// Subscribe attaches a listener to a configuration's activity. At most
// MaxListenersPerConf subscriptions may be open per configuration.
func (s *ActivityService) Subscribe(configHash string) (*ActivitySubscription, error) {
	if configHash == "" {
		return nil, fmt.Errorf("%w: configHash is required", ErrInvalid)
	}

	s.mu.Lock()
	if s.opts.MaxListenersPerConf > 0 && len(s.subs[configHash]) >= s.opts.MaxListenersPerConf {
		s.mu.Unlock()
		return nil, ErrSubscriberLimit
	}

	sub := &activitySubscriber{ch: make(chan ActivityEvent, 8)}
	if s.subs[configHash] == nil {
		s.subs[configHash] = make(map[*activitySubscriber]struct{})
	}
	s.subs[configHash][sub] = struct{}{}
	count := len(s.subs[configHash])
	s.mu.Unlock()

	logger.Debug("activity listener attached", "module", "service", "action", "subscribe", "resource", "activity", "result", "ok", "listeners", count)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if subs, ok := s.subs[configHash]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(s.subs, configHash)
				}
			}
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		})
	}
	return &ActivitySubscription{Events: sub.ch, cancel: cancel}, nil
}

// ListenerCount returns the number of open subscriptions for a
// configuration.
func (s *ActivityService) ListenerCount(configHash string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[configHash])
}

// heartbeatLoop pings every subscriber on a shared ticker so listener
// connections survive idle proxies. A summary line is logged at most once
// per configured interval.
func (s *ActivityService) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	var lastLog time.Time
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			pinged := 0
			for hash := range s.subs {
				pinged += s.notifyLocked(hash, ActivityEvent{Type: ActivityEventPing})
			}
			s.mu.Unlock()

			if pinged > 0 && time.Since(lastLog) >= s.opts.HeartbeatLogInterval {
				lastLog = time.Now()
				logger.Debug("activity heartbeat", "module", "service", "action", "heartbeat", "resource", "activity", "result", "ok", "listeners", pinged)
			}
		}
	}
}

func (s *ActivityService) expiredActivityLocked(entry *model.StreamActivityEntry) bool {
	if s.opts.EntryTTL <= 0 {
		return false
	}
	return time.Now().UnixMilli()-entry.UpdatedAt > s.opts.EntryTTL.Milliseconds()
}

// pruneLocked drops expired entries and, when at capacity, the least
// recently updated one.
func (s *ActivityService) pruneLocked() {
	if s.opts.EntryTTL > 0 {
		for _, hash := range append([]string(nil), s.order...) {
			if entry, ok := s.latest[hash]; ok && s.expiredActivityLocked(entry) {
				s.removeActivityLocked(hash)
			}
		}
	}
	for s.opts.MaxEntries > 0 && len(s.latest) >= s.opts.MaxEntries && len(s.order) > 0 {
		s.removeActivityLocked(s.order[0])
	}
}

func (s *ActivityService) touchActivityLocked(hash string) {
	for i, h := range s.order {
		if h == hash {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, hash)
}

func (s *ActivityService) removeActivityLocked(hash string) {
	delete(s.latest, hash)
	for i, h := range s.order {
		if h == hash {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
