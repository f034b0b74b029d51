package sessionkit

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// probeStore is an in-memory Store that counts calls, records their order and
// can simulate a lagging reader, failing reads and failing writes.
type probeStore struct {
	mu sync.Mutex

	records map[string]*Session
	// visibleAfter hides a saved record from the first visibleAfter-1 reads
	// of its ID. 0 or 1 means immediately visible; -1 means never.
	visibleAfter int
	readErrs     map[int]error // by 1-indexed read number
	saveErr      error
	deleteErr    error
	saveDelay    time.Duration

	reads   map[string]int
	nGets   int
	nSaves  int
	nDels   int
	events  []string
	getHook func(n int)
}

func newProbeStore() *probeStore {
	return &probeStore{
		records:  make(map[string]*Session),
		readErrs: make(map[int]error),
		reads:    make(map[string]int),
	}
}

func (p *probeStore) Get(ctx context.Context, id string) (*Session, error) {
	p.mu.Lock()
	p.nGets++
	n := p.nGets
	p.reads[id]++
	nth := p.reads[id]
	p.events = append(p.events, "get")
	hook := p.getHook
	err := p.readErrs[n]
	rec, ok := p.records[id]
	visible := p.visibleAfter >= 0 && nth >= p.visibleAfter
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	if !ok || !visible {
		return nil, nil
	}
	return &Session{ID: rec.ID, Values: maps.Clone(rec.Values), CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}, nil
}

func (p *probeStore) Save(ctx context.Context, s *Session) error {
	p.mu.Lock()
	p.events = append(p.events, "save:start")
	delay := p.saveDelay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nSaves++
	if p.saveErr != nil {
		p.events = append(p.events, "save:error")
		return p.saveErr
	}
	p.records[s.ID] = &Session{ID: s.ID, Values: maps.Clone(s.Values), CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt}
	p.events = append(p.events, "save:done")
	return nil
}

func (p *probeStore) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nDels++
	p.events = append(p.events, "delete")
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.records, id)
	return nil
}

func (p *probeStore) Cleanup(ctx context.Context) error { return nil }
func (p *probeStore) Close() error                      { return nil }

func (p *probeStore) gets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nGets
}

func (p *probeStore) saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nSaves
}

func (p *probeStore) deletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nDels
}

func (p *probeStore) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[id]
	return ok
}

func (p *probeStore) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// recordingSleep returns a SleepFunc that records requested delays without waiting.
func recordingSleep(delays *[]time.Duration) SleepFunc {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func (p *probeStore) String() string {
	return fmt.Sprintf("probeStore{gets=%d saves=%d deletes=%d}", p.gets(), p.saves(), p.deletes())
}
