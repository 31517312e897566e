package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Quota errors.
var (
	// ErrClientLimit indicates a client used up its hourly or daily budget.
	ErrClientLimit = errors.New("rate limit exceeded")
	// ErrGlobalLimit indicates the service-wide daily budget is spent.
	ErrGlobalLimit = errors.New("daily limit reached")
)

// QuotaConfig sets request budgets for the chat API.
type QuotaConfig struct {
	PerClientHourly int
	PerClientDaily  int
	GlobalDaily     int
}

// DefaultQuota mirrors the public deployment's budgets.
var DefaultQuota = QuotaConfig{PerClientHourly: 20, PerClientDaily: 100, GlobalDaily: 500}

const maxTrackedClients = 10000

type clientBudget struct {
	hourly   *rate.Limiter
	daily    *rate.Limiter
	lastSeen time.Time
}

// Quota tracks per-client and global request budgets with refilling buckets.
type Quota struct {
	mu      sync.Mutex
	cfg     QuotaConfig
	global  *rate.Limiter
	clients map[string]*clientBudget
	limit   int
	now     func() time.Time
}

// NewQuota creates a quota tracker. Zero fields fall back to DefaultQuota.
func NewQuota(cfg QuotaConfig) *Quota {
	if cfg.PerClientHourly <= 0 {
		cfg.PerClientHourly = DefaultQuota.PerClientHourly
	}
	if cfg.PerClientDaily <= 0 {
		cfg.PerClientDaily = DefaultQuota.PerClientDaily
	}
	if cfg.GlobalDaily <= 0 {
		cfg.GlobalDaily = DefaultQuota.GlobalDaily
	}
	return &Quota{
		cfg:     cfg,
		global:  perWindow(cfg.GlobalDaily, 24*time.Hour),
		clients: make(map[string]*clientBudget),
		limit:   maxTrackedClients,
		now:     time.Now,
	}
}

func perWindow(n int, window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(n)/window.Seconds()), n)
}

// Take consumes one request for client. It returns how many requests the
// client has left, or ErrClientLimit / ErrGlobalLimit.
func (q *Quota) Take(client string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if q.global.TokensAt(now) < 1 {
		return 0, ErrGlobalLimit
	}
	b, ok := q.clients[client]
	if !ok {
		if len(q.clients) >= q.limit {
			q.sweep(now)
		}
		b = &clientBudget{
			hourly: perWindow(q.cfg.PerClientHourly, time.Hour),
			daily:  perWindow(q.cfg.PerClientDaily, 24*time.Hour),
		}
		q.clients[client] = b
	}
	b.lastSeen = now
	if b.hourly.TokensAt(now) < 1 || b.daily.TokensAt(now) < 1 {
		return 0, ErrClientLimit
	}
	b.hourly.AllowN(now, 1)
	b.daily.AllowN(now, 1)
	q.global.AllowN(now, 1)
	return int(min(b.hourly.TokensAt(now), b.daily.TokensAt(now))), nil
}

// sweep forgets clients whose budgets have fully refilled. If that frees
// nothing, the least recently seen clients are dropped until there is room
// for one more.
func (q *Quota) sweep(now time.Time) {
	for k, b := range q.clients {
		if int(b.hourly.TokensAt(now)) >= q.cfg.PerClientHourly && int(b.daily.TokensAt(now)) >= q.cfg.PerClientDaily {
			delete(q.clients, k)
		}
	}
	for len(q.clients) >= q.limit {
		var oldest string
		var seen time.Time
		first := true
		for k, b := range q.clients {
			if first || b.lastSeen.Before(seen) {
				oldest, seen, first = k, b.lastSeen, false
			}
		}
		delete(q.clients, oldest)
	}
}
