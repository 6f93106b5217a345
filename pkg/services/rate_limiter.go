package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserRateLimiter はユーザーごとに予測実行の頻度を制限します。
// 一定時間使われていないリミッタは定期的に破棄します。
type UserRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*userLimiter
	perMin    int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter は1分あたり perMinute 回まで許可するリミッタを生成します。
// perMinute が0以下なら nil を返し、制限を行いません。
func NewUserRateLimiter(perMinute int) *UserRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &UserRateLimiter{
		limiters: make(map[string]*userLimiter),
		perMin:   perMinute,
		// 1分以上使われなければバケットは満杯に戻っているので、破棄しても挙動は変わらない
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow は uid の実行を許可するかどうかを返します。
func (l *UserRateLimiter) Allow(uid string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	entry, ok := l.limiters[uid]
	if !ok {
		entry = &userLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.limiters[uid] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Len は保持しているリミッタの数を返します。
func (l *UserRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *UserRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for uid, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.limiters, uid)
		}
	}
	l.lastSweep = now
}
