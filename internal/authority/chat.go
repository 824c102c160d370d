package authority

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dkeye/videoroom/internal/domain"
)

// ChatLimiter is a sliding-window limit of messages per user.
type ChatLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewChatLimiter returns nil when limit is not positive; a nil limiter
// allows everything.
func NewChatLimiter(limit int, interval time.Duration) *ChatLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &ChatLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (l *ChatLimiter) Allow(id domain.UserID) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.interval)

	attempts := l.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= l.limit {
		l.history[id] = fresh
		return false
	}
	l.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a user that left.
func (l *ChatLimiter) Forget(id domain.UserID) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, id)
}

// truncateRunes cuts s to at most max runes without splitting one.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func userChat(id domain.UserID, message string, max int, now time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		Type:      domain.ChatUser,
		UserID:    id,
		Message:   truncateRunes(message, max),
		Timestamp: now.UnixMilli(),
	}
}

func systemChat(message string, now time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		Type:      domain.ChatSystem,
		Message:   message,
		Timestamp: now.UnixMilli(),
	}
}
