package middleware

import (
	"sync"
	"time"
)

// rateKey - лимит считается отдельно для каждого пользователя в каждом чате.
type rateKey struct {
	chatID int64
	userID int64
}

// RateLimiter ограничивает количество команд на пользователя.
// Использует алгоритм скользящего окна.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[rateKey][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[rateKey][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close останавливает фоновую горутину очистки.
// Его надо вызывать на shutdown (иначе cleanup будет жить вечно).
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Allow(chatID, userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := rateKey{chatID: chatID, userID: userID}
	now := rl.now()
	recent := rl.recent(rl.requests[key], now)

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}

	rl.requests[key] = append(recent, now)
	return true
}

// recent оставляет отметки, попавшие в окно.
func (rl *RateLimiter) recent(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// sweep удаляет пользователей без запросов в текущем окне.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, times := range rl.requests {
		if recent := rl.recent(times, now); len(recent) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = recent
		}
	}
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}
