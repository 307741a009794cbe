package attendance

import (
	"context"
	"sync"
	"time"
)

// Guard is a best-effort per-key lock that keeps a second submission for the
// same record from running biometrics while the first is still in flight.
// Correctness never depends on it; the store's atomic writes do.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalGuard is an in-process Guard for single-instance deployments and tests.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocalGuard creates an empty guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]time.Time)}
}

func (g *LocalGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	g.held[key] = exp
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.held[key].Equal(exp) {
			delete(g.held, key)
		}
	}, true, nil
}

func (k Key) String() string {
	return k.StudentID + ":" + k.CourseID + ":" + k.Date
}
