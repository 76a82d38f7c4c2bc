package gateway

import (
	"sync"
	"time"
)

// FixedWindowLimiter — лимитер исходящих вызовов с фиксированным окном:
// capacity вызовов за window, счетчик сбрасывается атомарно при пересечении
// границы окна на следующем Admit. Инвариант: в пределах одного окна
// никогда не проходит больше capacity вызовов.
type FixedWindowLimiter struct {
	mu          sync.Mutex
	capacity    int
	window      time.Duration
	count       int
	windowStart time.Time

	now func() time.Time // подменяется в тестах
}

func NewFixedWindowLimiter(capacity int, window time.Duration) *FixedWindowLimiter {
	if capacity <= 0 {
		capacity = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindowLimiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Admit решает, пропускать ли очередной исходящий вызов.
// При отказе побочных эффектов нет: вызыватель не ретраит синхронно,
// а репортит отказ наверх (наружу это RateLimited, сигнал для backoff).
// Increment-and-check атомарен относительно конкурентных Admit.
func (l *FixedWindowLimiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		// Граница пересечена — новое окно
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.capacity {
		return false
	}
	l.count++
	return true
}

// RetryAfter сообщает, сколько осталось до конца текущего окна.
// Уходит вызывателю в заголовке Retry-After.
func (l *FixedWindowLimiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() {
		return 0
	}
	remaining := l.window - l.now().Sub(l.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
