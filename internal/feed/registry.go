package feed

import "sync"

// Key identifies a subscription slot: one feed on one screen.
type Key struct {
	Feed   string
	Screen string
}

// Canceler is anything that can be stopped, typically a *Subscription.
type Canceler interface {
	Cancel()
}

// Registry enforces one active subscription per Key.
type Registry struct {
	mu   sync.Mutex
	subs map[Key]Canceler
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[Key]Canceler)}
}

// Start cancels whatever occupies key and installs the subscription
// returned by start.
func (r *Registry) Start(key Key, start func() (Canceler, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.subs[key]; ok {
		old.Cancel()
		delete(r.subs, key)
	}

	c, err := start()
	if err != nil {
		return err
	}
	r.subs[key] = c
	return nil
}

// Stop cancels the subscription at key. Unknown keys are ignored.
func (r *Registry) Stop(key Key) {
	r.mu.Lock()
	c, ok := r.subs[key]
	delete(r.subs, key)
	r.mu.Unlock()
	if ok {
		c.Cancel()
	}
}

// StopScreen cancels every subscription owned by screen.
func (r *Registry) StopScreen(screen string) {
	r.mu.Lock()
	var stop []Canceler
	for k, c := range r.subs {
		if k.Screen == screen {
			stop = append(stop, c)
			delete(r.subs, k)
		}
	}
	r.mu.Unlock()
	for _, c := range stop {
		c.Cancel()
	}
}

// StopAll cancels everything.
func (r *Registry) StopAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[Key]Canceler)
	r.mu.Unlock()
	for _, c := range subs {
		c.Cancel()
	}
}

// Active reports whether key holds a subscription.
func (r *Registry) Active(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key]
	return ok
}

// Len is the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
