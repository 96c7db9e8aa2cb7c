package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"roomcast/pkg/types"
)

type fakeStream struct {
	frames chan []byte
	fail   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan []byte, 16),
		fail:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *fakeStream) Next() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.fail:
		return nil, err
	case <-s.done:
		return nil, ErrStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *fakeStream) push(t *testing.T, event types.Event) {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	s.frames <- data
}

type dialCall struct {
	roomID int64
	userID string
}

type fakeDialer struct {
	mu      sync.Mutex
	calls   []dialCall
	failAll bool
	errs    []error
	streams chan *fakeStream
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{streams: make(chan *fakeStream, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, roomID int64, userID string) (EventStream, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dialCall{roomID: roomID, userID: userID})
	var err error
	if d.failAll {
		err = fmt.Errorf("dial refused")
	} else if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := newFakeStream()
	d.streams <- s
	return s, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDialer) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-d.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeScheduler records timers; tests fire them explicitly.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

type fakeFetcher struct {
	mu      sync.Mutex
	rooms   map[int64][]*types.Message
	calls   int
	block   chan struct{}
	entered chan struct{}
	err     error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{rooms: make(map[int64][]*types.Message)}
}

func (f *fakeFetcher) set(roomID int64, msgs ...*types.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[roomID] = msgs
}

func (f *fakeFetcher) LatestMessages(ctx context.Context, roomID int64, limit int) ([]*types.Message, error) {
	f.mu.Lock()
	f.calls++
	block, entered := f.block, f.entered
	f.block, f.entered = nil, nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msgs := f.rooms[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*types.Message(nil), msgs...), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func msg(id, roomID int64, content string) *types.Message {
	return &types.Message{
		ID:          id,
		RoomID:      roomID,
		UserID:      "alice",
		Content:     content,
		MessageType: types.MessageKindText,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, int(id), 0, time.UTC),
	}
}

func ids(msgs []*types.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func quietLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}
