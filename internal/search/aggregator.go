package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/metrics"
	"github.com/vovakirdan/voicechat/internal/proto"
)

// ErrNoResult is returned by Select for an index outside the current results.
var ErrNoResult = errors.New("no such search result")

// Searcher runs one search against the collaborator.
type Searcher interface {
	Search(ctx context.Context, q, roomID string) (proto.SearchResponse, error)
}

// Config tunes the aggregator.
type Config struct {
	Debounce  time.Duration
	MinLength int
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zerolog.Logger
}

// DefaultConfig waits 300ms and needs at least two characters.
func DefaultConfig() Config {
	return Config{Debounce: 300 * time.Millisecond, MinLength: 2, CacheSize: 64, CacheTTL: 30 * time.Second}
}

// State is what the search view renders.
type State struct {
	Query   string
	RoomID  string
	Loading bool
	Results []Result
	Err     error
	// Settled is set once the search for Query has returned.
	Settled bool
}

// Aggregator debounces keystrokes into searches and keeps the merged results.
// Each keystroke cancels the pending timer and any request in flight; a generation
// counter discards whatever a superseded timer or request produces.
type Aggregator struct {
	searcher Searcher
	cfg      Config
	cache    *Cache
	logger   zerolog.Logger
	updates  chan struct{}

	mu     sync.Mutex
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	state  State
}

// New creates an aggregator.
func New(searcher Searcher, cfg Config) (*Aggregator, error) {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 2
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	cache, err := NewCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("search cache: %w", err)
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = cfg.Logger.With().Str("component", "search").Logger()
	}
	return &Aggregator{
		searcher: searcher,
		cfg:      cfg,
		cache:    cache,
		logger:   l,
		updates:  make(chan struct{}, 1),
	}, nil
}

// Updates signals state changes. Signals coalesce.
func (a *Aggregator) Updates() <-chan struct{} { return a.updates }

// State returns a copy of the current state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Results = append([]Result(nil), a.state.Results...)
	return s
}

// Type records the current input. A search is dispatched once the input has been stable for
// the debounce interval and is long enough; shorter input clears the results.
func (a *Aggregator) Type(input, roomID string) {
	a.mu.Lock()
	a.resetLocked()
	gen := a.gen
	q := strings.TrimSpace(input)
	a.state = State{Query: input, RoomID: roomID}

	if utf8.RuneCountInString(q) >= a.cfg.MinLength {
		a.timer = time.AfterFunc(a.cfg.Debounce, func() { a.fire(gen, q, roomID) })
	}
	a.mu.Unlock()
	a.publish()
}

// resetLocked supersedes the pending timer and request.
func (a *Aggregator) resetLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Aggregator) fire(gen uint64, q, roomID string) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.state.Loading = true
	a.mu.Unlock()
	a.publish()

	results, err := a.run(ctx, q, roomID)
	cancel()

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		metrics.SearchRequests.WithLabelValues("canceled").Inc()
		return
	}
	a.cancel = nil
	a.state.Loading = false
	a.state.Results = results
	a.state.Err = err
	a.state.Settled = true
	a.mu.Unlock()
	if err != nil {
		a.logger.Warn().Err(err).Str("query", q).Msg("search failed")
	}
	a.publish()
}

func (a *Aggregator) run(ctx context.Context, q, roomID string) ([]Result, error) {
	if resp, ok := a.cache.Get(q, roomID); ok {
		metrics.SearchRequests.WithLabelValues("cached").Inc()
		return Merge(resp, q), nil
	}
	resp, err := a.searcher.Search(ctx, q, roomID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			metrics.SearchRequests.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.SearchRequests.WithLabelValues("ok").Inc()
	a.cache.Set(q, roomID, resp)
	return Merge(resp, q), nil
}

// SearchNow searches immediately, bypassing the debounce. It does not touch the typed state.
func (a *Aggregator) SearchNow(ctx context.Context, q, roomID string) ([]Result, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < a.cfg.MinLength {
		return nil, fmt.Errorf("query must be at least %d characters", a.cfg.MinLength)
	}
	return a.run(ctx, q, roomID)
}

// Select returns the conversation owning result index and clears the search.
func (a *Aggregator) Select(index int) (roomID, messageID string, err error) {
	a.mu.Lock()
	if index < 0 || index >= len(a.state.Results) {
		a.mu.Unlock()
		return "", "", ErrNoResult
	}
	r := a.state.Results[index]
	a.resetLocked()
	a.state = State{}
	a.mu.Unlock()
	a.publish()
	return r.Message.RoomID, r.Message.ID, nil
}

// Clear drops the query, results and anything pending.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.resetLocked()
	a.state = State{}
	a.mu.Unlock()
	a.publish()
}

// Invalidate forgets cached responses so deleted messages stop showing up.
func (a *Aggregator) Invalidate() {
	a.cache.Purge()
}

func (a *Aggregator) publish() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}
