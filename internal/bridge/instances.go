package bridge

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrInvalidRuntime is returned when a context is created without a usable runtime.
	ErrInvalidRuntime = errors.New("invalid runtime handle")

	// ErrThreadAffinity is returned when a context is created on a different
	// goroutine than the live contexts run on.
	ErrThreadAffinity = errors.New("contexts must all run on the same thread")

	// ErrDuplicateRuntime is returned when the root runtime already has a context.
	ErrDuplicateRuntime = errors.New("runtime already has a context")
)

// Instances is the set of live Contexts sharing one global native connection.
//
// The wrapped SDK delivers callbacks process-wide and is not safe across
// threads, so every Context must be created, ticked and closed on the same
// goroutine, which the host pins to an OS thread. The first registration
// records that goroutine as the owner; registrations from any other goroutine
// are refused while the set is non-empty. The mutex only keeps the check
// itself race-free; it does not make Contexts usable from other goroutines.
type Instances struct {
	mu       sync.Mutex
	contexts *orderedmap.OrderedMap[Runtime, *Context]
	owner    uint64
}

// NewInstances creates an empty instance set.
func NewInstances() *Instances {
	return &Instances{contexts: orderedmap.New[Runtime, *Context]()}
}

// Count returns the number of live contexts.
func (s *Instances) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts.Len()
}

// CheckAffinity returns ErrThreadAffinity if contexts are live on another goroutine.
func (s *Instances) CheckAffinity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkAffinityLocked(goroutineID())
}

func (s *Instances) checkAffinityLocked(gid uint64) error {
	if s.contexts.Len() > 0 && gid != s.owner {
		return fmt.Errorf("%w: owner goroutine %d, caller goroutine %d", ErrThreadAffinity, s.owner, gid)
	}
	return nil
}

// Register adds c to the set.
func (s *Instances) Register(c *Context) error {
	gid := goroutineID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAffinityLocked(gid); err != nil {
		return err
	}
	if _, exists := s.contexts.Get(c.rt); exists {
		return ErrDuplicateRuntime
	}
	if s.contexts.Len() == 0 {
		s.owner = gid
	}
	s.contexts.Set(c.rt, c)
	return nil
}

// Unregister removes c from the set. Unknown contexts are ignored.
func (s *Instances) Unregister(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.contexts.Get(c.rt); ok && cur == c {
		s.contexts.Delete(c.rt)
	}
	if s.contexts.Len() == 0 {
		s.owner = 0
	}
}

// Lookup returns the context bound to the root runtime of rt.
func (s *Instances) Lookup(rt Runtime) (*Context, bool) {
	root := rootOf(rt)
	if root == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts.Get(root)
}

// Each calls fn for every live context in registration order.
func (s *Instances) Each(fn func(*Context)) {
	s.mu.Lock()
	list := make([]*Context, 0, s.contexts.Len())
	for pair := s.contexts.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	s.mu.Unlock()
	for _, c := range list {
		fn(c)
	}
}

// goroutineID returns the current goroutine's ID.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
