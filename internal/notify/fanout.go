package notify

import (
	"sync"

	"voicekey/internal/domain"
	"voicekey/internal/ports"
)

type registration struct {
	id   int
	sink ports.StateSink
}

// Fanout delivers every published state to all registered sinks.
// It holds no lock while a sink runs.
type Fanout struct {
	mu     sync.RWMutex
	nextID int
	sinks  []registration
}

var _ ports.StateSink = (*Fanout)(nil)

func NewFanout(sinks ...ports.StateSink) *Fanout {
	f := &Fanout{}
	for _, sink := range sinks {
		f.Add(sink)
	}
	return f
}

// Add registers sink and returns a function that removes it again.
func (f *Fanout) Add(sink ports.StateSink) (remove func()) {
	if sink == nil {
		return func() {}
	}
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.sinks = append(f.sinks, registration{id: id, sink: sink})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Fanout) remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, reg := range f.sinks {
		if reg.id == id {
			f.sinks = append(f.sinks[:i:i], f.sinks[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// PublishState hands state to each sink in registration order.
func (f *Fanout) PublishState(state domain.OverlayState) {
	f.mu.RLock()
	sinks := make([]ports.StateSink, 0, len(f.sinks))
	for _, reg := range f.sinks {
		sinks = append(sinks, reg.sink)
	}
	f.mu.RUnlock()

	for _, sink := range sinks {
		sink.PublishState(state)
	}
}
