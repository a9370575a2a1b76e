// Package ratelimit throttles unauthenticated endpoints per client address.
package ratelimit

import (
	"container/list"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgellow/mcp-workers/internal/log"
)

const (
	defaultMaxEntries = 10000
	idleTimeout       = 30 * time.Minute
	cleanupInterval   = 5 * time.Minute
)

type entry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is a token bucket per key, bounded by LRU eviction.
type Limiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	rps        rate.Limit
	burst      int
	maxEntries int
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns a limiter allowing rps requests per second with the given burst per key.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		rps:        rate.Limit(rps),
		burst:      burst,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// Start runs the idle-entry sweep until Stop is called.
func (l *Limiter) Start() {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup(idleTimeout)
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop ends the sweep goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[key]; ok {
		l.lru.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.lastAccess = now
		return e.limiter.AllowN(now, 1)
	}

	if l.maxEntries > 0 && len(l.entries) >= l.maxEntries {
		if back := l.lru.Back(); back != nil {
			evicted := back.Value.(*entry)
			delete(l.entries, evicted.key)
			l.lru.Remove(back)
			log.LogTraceWithFields("ratelimit", "Evicted limiter", map[string]any{"key": evicted.key})
		}
	}

	e := &entry{key: key, limiter: rate.NewLimiter(l.rps, l.burst), lastAccess: now}
	l.entries[key] = l.lru.PushFront(e)
	return e.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than maxIdle.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for elem := l.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if now.Sub(e.lastAccess) <= maxIdle {
			// list is ordered by recency, everything in front is fresher
			break
		}
		delete(l.entries, e.key)
		l.lru.Remove(elem)
		removed++
		elem = prev
	}
	if removed > 0 {
		log.LogDebugWithFields("ratelimit", "Removed idle limiters", map[string]any{
			"removed":   removed,
			"remaining": len(l.entries),
		})
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ClientIP returns the caller address, honouring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
