//go:build test

package relay

import (
	"errors"
	"sync"

	"github.com/seabase/kiwi-relay/duplex"
)

var errWriteFailed = errors.New("write failed")

// fakeTransport records emitted events and lets a test push inbound events
// to whoever subscribed.
type fakeTransport struct {
	id   string
	done chan struct{}

	mu      sync.Mutex
	subs    map[int]func(duplex.Event)
	nextSub int
	emitted []string
	starts  []duplex.StartGenerate
	onStart func(*fakeTransport)

	emitCh chan string
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		id:     id,
		done:   make(chan struct{}),
		subs:   make(map[int]func(duplex.Event)),
		emitCh: make(chan string, 16),
	}
}

func (f *fakeTransport) ID() string            { return f.id }
func (f *fakeTransport) Close() error          { return nil }
func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Emit(event string, data any) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, event)
	if start, ok := data.(duplex.StartGenerate); ok {
		f.starts = append(f.starts, start)
	}
	hook := f.onStart
	f.mu.Unlock()

	select {
	case f.emitCh <- event:
	default:
	}
	if event == duplex.EventStartGenerate && hook != nil {
		go hook(f)
	}
	return nil
}

func (f *fakeTransport) Subscribe(fn func(duplex.Event)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) deliver(events ...duplex.Event) {
	for _, ev := range events {
		f.mu.Lock()
		subs := make([]func(duplex.Event), 0, len(f.subs))
		for _, fn := range f.subs {
			subs = append(subs, fn)
		}
		f.mu.Unlock()

		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (f *fakeTransport) emittedCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emitted {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func chunkEvent(text string) duplex.Event {
	return duplex.Event{Kind: duplex.KindMessage, Name: duplex.EventMessage, Text: text}
}

func doneEvent() duplex.Event {
	return duplex.Event{Kind: duplex.KindDone, Name: duplex.EventDone}
}

// sinkState is what a recordingSink has seen.
type sinkState struct {
	began     bool
	writes    []string
	finished  bool
	aggregate *AggregateResponse
	aborted   bool
}

// recordingSink keeps everything a session writes.
type recordingSink struct {
	mu         sync.Mutex
	state      sinkState
	failWrites bool
}

func (s *recordingSink) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.began = true
	return nil
}

func (s *recordingSink) WriteChunk(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.writes = append(s.state.writes, text)
	if s.failWrites {
		return errWriteFailed
	}
	return nil
}

func (s *recordingSink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.finished = true
	return nil
}

func (s *recordingSink) WriteAggregate(resp AggregateResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.aggregate = &resp
	return nil
}

func (s *recordingSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.aborted = true
	return nil
}

func (s *recordingSink) snapshot() sinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.writes = append([]string(nil), s.state.writes...)
	return state
}
