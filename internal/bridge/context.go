package bridge

import (
	list "github.com/bahlo/generic-list-go"
	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
)

// Option configures a Context.
type Option func(*Context)

// WithPump sets the native callback pump run at the start of every frame tick.
// Native callbacks fired by the pump are drained in the same tick.
func WithPump(pump func()) Option {
	return func(c *Context) {
		c.pump = pump
	}
}

// WithLogger sets the context's logger.
func WithLogger(log *logiface.Logger[logiface.Event]) Option {
	return func(c *Context) {
		c.log = log
	}
}

// Context binds one root runtime to the native event source. It owns the
// runtime's Dispatcher, its frame-tick subscription and the FIFO queue of
// native events waiting for the next tick.
//
// A Context must only be used from the goroutine that created it.
type Context struct {
	id          string
	rt          Runtime
	instances   *Instances
	dispatcher  *Dispatcher
	queue       *list.List[*EventTask]
	unsubscribe func()
	pump        func()
	log         *logiface.Logger[logiface.Event]
	closed      bool
}

// NewContext creates the context for the root runtime of rt and registers it
// in instances.
func NewContext(rt Runtime, instances *Instances, opts ...Option) (*Context, error) {
	root := rootOf(rt)
	if root == nil || instances == nil {
		return nil, ErrInvalidRuntime
	}

	c := &Context{
		id:        uuid.NewString(),
		rt:        root,
		instances: instances,
		queue:     list.New[*EventTask](),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := instances.Register(c); err != nil {
		return nil, err
	}

	c.dispatcher = NewDispatcher(root, c.log)

	unsubscribe, err := protect(func() (func(), error) {
		return root.Subscribe(FrameEvent, c.OnFrameTick)
	})
	if err != nil {
		c.dispatcher.Close()
		instances.Unregister(c)
		return nil, err
	}
	c.unsubscribe = unsubscribe

	c.log.Debug().Str("context", c.id).Int("instances", instances.Count()).Log("bridge: context created")
	return c, nil
}

// ID returns the context's unique ID.
func (c *Context) ID() string {
	return c.id
}

// Runtime returns the root runtime the context is bound to.
func (c *Context) Runtime() Runtime {
	return c.rt
}

// Dispatcher returns the dispatcher script listeners are added to.
func (c *Context) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// InstanceCount returns the number of live contexts in the instance set.
func (c *Context) InstanceCount() int {
	return c.instances.Count()
}

// Pending returns the number of queued events.
func (c *Context) Pending() int {
	return c.queue.Len()
}

// OnNativeEvent queues ev for dispatch on the next frame tick.
// It never touches the runtime, so it is safe to call while the runtime is
// not advancing frames.
func (c *Context) OnNativeEvent(ev Event) {
	if ev == nil {
		return
	}
	if c.closed {
		c.log.Debug().Str("context", c.id).Str("event", ev.Name()).Log("bridge: dropped event for closed context")
		return
	}
	c.queue.PushBack(NewEventTask(c.dispatcher, ev))
}

// OnAuthResponse queues an authResponse event.
func (c *Context) OnAuthResponse(success bool) {
	c.OnNativeEvent(NewAuthResponse(success, ""))
}

// OnFrameTick pumps native callbacks, then dispatches every queued event in
// FIFO order. Events queued while draining are dispatched in the same pass.
func (c *Context) OnFrameTick() {
	if c.closed {
		return
	}
	if c.pump != nil {
		if _, err := protect(func() (struct{}, error) {
			c.pump()
			return struct{}{}, nil
		}); err != nil {
			c.log.Err().Str("context", c.id).Err(err).Log("bridge: native pump failed")
		}
	}
	for !c.closed {
		front := c.queue.Front()
		if front == nil {
			return
		}
		task := c.queue.Remove(front)
		if !task.Execute() {
			c.log.Debug().Str("context", c.id).Str("event", task.Event().Name()).Log("bridge: event not dispatched")
		}
	}
}

// Close unsubscribes from frame ticks, releases the dispatcher and leaves the
// instance set. Queued events are discarded.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.unsubscribe != nil {
		protect(func() (struct{}, error) {
			c.unsubscribe()
			return struct{}{}, nil
		})
		c.unsubscribe = nil
	}
	if dropped := c.queue.Len(); dropped > 0 {
		c.log.Info().Str("context", c.id).Int("dropped", dropped).Log("bridge: discarding queued events")
	}
	c.queue.Init()
	c.dispatcher.Close()
	c.instances.Unregister(c)
	c.log.Debug().Str("context", c.id).Int("instances", c.instances.Count()).Log("bridge: context closed")
}
