package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"roomcast/pkg/types"
)

type recorder struct {
	mu         sync.Mutex
	connected  []types.ConnectedData
	messages   []*types.Message
	statuses   []types.UserStatusData
	states     []State
	exhausted  []int
	concurrent bool
	inFlight   bool
}

func (r *recorder) enter() {
	r.mu.Lock()
	if r.inFlight {
		r.concurrent = true
	}
	r.inFlight = true
	r.mu.Unlock()
}

func (r *recorder) leave() {
	r.mu.Lock()
	r.inFlight = false
	r.mu.Unlock()
}

func (r *recorder) options(d Dialer, s Scheduler) Options {
	return Options{
		Dialer:    d,
		Scheduler: s,
		Logger:    quietLogger(),
		OnConnected: func(data types.ConnectedData) {
			r.enter()
			defer r.leave()
			r.mu.Lock()
			r.connected = append(r.connected, data)
			r.mu.Unlock()
		},
		OnMessages: func(msgs []*types.Message) {
			r.enter()
			defer r.leave()
			r.mu.Lock()
			r.messages = append(r.messages, msgs...)
			r.mu.Unlock()
		},
		OnStatus: func(data types.UserStatusData) {
			r.enter()
			defer r.leave()
			r.mu.Lock()
			r.statuses = append(r.statuses, data)
			r.mu.Unlock()
		},
		OnExhausted: func(attempts int) {
			r.mu.Lock()
			r.exhausted = append(r.exhausted, attempts)
			r.mu.Unlock()
		},
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (connected, messages, statuses, states int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.messages), len(r.statuses), len(r.states)
}

func newTestLive(t *testing.T) (*LiveConnection, *fakeDialer, *fakeScheduler, *recorder) {
	t.Helper()
	d := newFakeDialer()
	s := &fakeScheduler{}
	r := &recorder{}
	c, err := NewLiveConnection(r.options(d, s))
	if err != nil {
		t.Fatalf("NewLiveConnection: %v", err)
	}
	t.Cleanup(c.Destroy)
	return c, d, s, r
}

func waitState(t *testing.T, c *LiveConnection, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

func TestNewLiveConnection_RequiresDialer(t *testing.T) {
	if _, err := NewLiveConnection(Options{}); !errors.Is(err, ErrNoDialer) {
		t.Errorf("err = %v, want ErrNoDialer", err)
	}
}

func TestLiveConnection_DispatchesEnvelopes(t *testing.T) {
	c, d, _, r := newTestLive(t)

	if c.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", c.State())
	}
	if err := c.Connect(7, "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	stream := d.next(t)
	waitState(t, c, StateOpen)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stream.push(t, types.NewConnectedEvent(7, "alice", now))
	stream.push(t, types.NewMessageEvent(msg(1, 7, "hi")))
	stream.frames <- []byte("{not json")
	stream.frames <- []byte(`{"type":"newMessage","data":"oops"}`)
	stream.push(t, types.Event{Type: "typing", Data: map[string]string{"userId": "bob"}})
	stream.push(t, types.Event{Type: types.EventError, Data: types.ErrorData{Message: "boom"}})
	stream.push(t, types.NewUserStatusEvent("bob", types.StatusOnline, now))

	waitFor(t, "status callback", func() bool {
		_, _, statuses, _ := r.counts()
		return statuses == 1
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.connected) != 1 || r.connected[0].RoomID != 7 || r.connected[0].UserID != "alice" {
		t.Errorf("connected = %+v", r.connected)
	}
	if len(r.messages) != 1 || r.messages[0].ID != 1 || r.messages[0].Content != "hi" {
		t.Errorf("messages = %+v", r.messages)
	}
	if r.statuses[0].UserID != "bob" || r.statuses[0].Status != types.StatusOnline {
		t.Errorf("status = %+v", r.statuses[0])
	}
	if r.concurrent {
		t.Error("callbacks overlapped")
	}
}

func TestLiveConnection_ConnectIsNoOpForSameTarget(t *testing.T) {
	c, d, _, _ := newTestLive(t)

	c.Connect(1, "alice")
	c.Connect(1, "alice")
	first := d.next(t)
	waitState(t, c, StateOpen)
	c.Connect(1, "alice")

	if got := d.callCount(); got != 1 {
		t.Fatalf("dial count = %d, want 1", got)
	}

	c.Connect(2, "alice")
	second := d.next(t)
	waitState(t, c, StateOpen)

	if !first.closed() {
		t.Error("switching rooms must close the previous stream")
	}
	if second.closed() {
		t.Error("new stream should stay open")
	}
	if room, user := c.Target(); room != 2 || user != "alice" {
		t.Errorf("Target() = %d, %q", room, user)
	}
}

func TestLiveConnection_ReconnectsWithBackoffUntilExhausted(t *testing.T) {
	c, d, s, r := newTestLive(t)
	d.failAll = true

	c.Connect(3, "alice")

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, delay := range want {
		waitFor(t, "retry timer", func() bool { return s.count() == i+1 })
		if c.State() != StateReconnecting {
			t.Fatalf("state = %v, want reconnecting", c.State())
		}
		timer := s.timer(i)
		if timer.delay != delay {
			t.Errorf("retry %d delay = %v, want %v", i+1, timer.delay, delay)
		}
		timer.fn()
	}

	waitFor(t, "exhaustion", c.Exhausted)
	if c.State() != StateReconnecting {
		t.Errorf("exhausted state = %v, want reconnecting", c.State())
	}
	if s.count() != 5 {
		t.Errorf("timers scheduled = %d, want 5", s.count())
	}
	if d.callCount() != 6 {
		t.Errorf("dial count = %d, want 6", d.callCount())
	}
	waitFor(t, "OnExhausted", func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.exhausted) == 1
	})
	r.mu.Lock()
	if r.exhausted[0] != 5 {
		t.Errorf("OnExhausted(%d), want 5", r.exhausted[0])
	}
	r.mu.Unlock()

	// Connect starts over with a fresh budget.
	d.mu.Lock()
	d.failAll = false
	d.mu.Unlock()
	c.Connect(3, "alice")
	d.next(t)
	waitState(t, c, StateOpen)
	if c.Exhausted() {
		t.Error("Connect should clear exhaustion")
	}
}

func TestLiveConnection_OpenResetsAttempts(t *testing.T) {
	c, d, s, _ := newTestLive(t)
	d.errs = []error{errors.New("refused"), errors.New("refused")}

	c.Connect(1, "alice")
	waitFor(t, "first retry", func() bool { return s.count() == 1 })
	s.timer(0).fn()
	waitFor(t, "second retry", func() bool { return s.count() == 2 })
	if c.Attempts() != 2 {
		t.Fatalf("Attempts() = %d, want 2", c.Attempts())
	}
	s.timer(1).fn()

	stream := d.next(t)
	waitState(t, c, StateOpen)
	if c.Attempts() != 0 {
		t.Errorf("Attempts() after open = %d, want 0", c.Attempts())
	}

	// Dropping an open stream starts again at the base delay.
	stream.fail <- errors.New("connection reset")
	waitFor(t, "retry after drop", func() bool { return s.count() == 3 })
	if s.timer(2).delay != time.Second {
		t.Errorf("delay after drop = %v, want 1s", s.timer(2).delay)
	}
}

func TestLiveConnection_DisconnectCancelsPendingRetry(t *testing.T) {
	c, d, s, _ := newTestLive(t)
	d.failAll = true

	c.Connect(1, "alice")
	waitFor(t, "retry timer", func() bool { return s.count() == 1 })

	c.Disconnect()
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
	timer := s.timer(0)
	if !timer.isStopped() {
		t.Error("Disconnect should stop the pending timer")
	}

	// A timer that fires anyway belongs to an old epoch.
	timer.fn()
	time.Sleep(20 * time.Millisecond)
	if d.callCount() != 1 {
		t.Errorf("stale timer dialed: count = %d", d.callCount())
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}
}

func TestLiveConnection_StaleTimerAfterReconnect(t *testing.T) {
	c, d, s, _ := newTestLive(t)
	d.errs = []error{errors.New("refused")}

	c.Connect(1, "alice")
	waitFor(t, "retry timer", func() bool { return s.count() == 1 })
	stale := s.timer(0)

	c.Connect(2, "alice")
	d.next(t)
	waitState(t, c, StateOpen)

	stale.fn()
	time.Sleep(20 * time.Millisecond)
	if d.callCount() != 2 {
		t.Errorf("dial count = %d, want 2", d.callCount())
	}
	if c.State() != StateOpen {
		t.Errorf("state = %v, want open", c.State())
	}
}

func TestLiveConnection_DestroyStopsEverything(t *testing.T) {
	c, d, _, r := newTestLive(t)

	c.Connect(1, "alice")
	stream := d.next(t)
	waitState(t, c, StateOpen)
	_, _, _, statesBefore := r.counts()

	c.Destroy()
	if !stream.closed() {
		t.Error("Destroy should close the stream")
	}
	if c.State() != StateDestroyed {
		t.Errorf("state = %v, want destroyed", c.State())
	}
	if err := c.Connect(1, "alice"); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Connect after Destroy = %v, want ErrDestroyed", err)
	}
	c.Disconnect()
	c.Destroy()

	stream.push(t, types.NewMessageEvent(msg(1, 1, "late")))
	time.Sleep(20 * time.Millisecond)

	connected, messages, statuses, states := r.counts()
	if connected+messages+statuses != 0 || states != statesBefore {
		t.Errorf("callbacks after Destroy: connected=%d messages=%d statuses=%d states=%d->%d",
			connected, messages, statuses, statesBefore, states)
	}
}

func TestLiveConnection_CallbackMayReenter(t *testing.T) {
	d := newFakeDialer()
	s := &fakeScheduler{}
	var c *LiveConnection
	done := make(chan struct{})
	opts := Options{
		Dialer:    d,
		Scheduler: s,
		Logger:    quietLogger(),
		OnConnected: func(types.ConnectedData) {
			c.Disconnect()
			close(done)
		},
	}
	c, err := NewLiveConnection(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	c.Connect(1, "alice")
	stream := d.next(t)
	stream.push(t, types.NewConnectedEvent(1, "alice", time.Now()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not complete")
	}
	waitState(t, c, StateIdle)
}

// FUNCTIONAL VALIDATION TEST: a frame queued behind a slow callback is dropped when the connection moves on before it runs
func TestLiveConnection_QueuedFrameDroppedAfterDisconnect(t *testing.T) {
	d := newFakeDialer()
	s := &fakeScheduler{}
	r := &recorder{}
	opts := r.options(d, s)

	var hold sync.Once
	release := make(chan struct{})
	blocking := make(chan struct{})
	opts.OnStateChange = func(st State) {
		if st == StateConnecting && s.count() == 1 {
			hold.Do(func() {
				close(blocking)
				<-release
			})
		}
	}
	c, err := NewLiveConnection(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	c.Connect(1, "alice")
	first := d.next(t)
	waitState(t, c, StateOpen)
	first.fail <- errors.New("reset")
	waitFor(t, "retry timer", func() bool { return s.count() == 1 })

	// The retry's Connecting callback blocks the callback queue.
	go s.timer(0).fn()
	<-blocking

	second := d.next(t)
	second.push(t, types.NewMessageEvent(msg(7, 1, "stale")))
	waitFor(t, "queued frame", func() bool {
		c.queueMu.Lock()
		defer c.queueMu.Unlock()
		return len(c.queue) == 2
	})

	c.Disconnect()
	close(release)

	waitFor(t, "queue drained", func() bool {
		c.queueMu.Lock()
		defer c.queueMu.Unlock()
		return !c.draining
	})
	if _, messages, _, _ := r.counts(); messages != 0 {
		t.Errorf("stale frame delivered after Disconnect: %d messages", messages)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:         "idle",
		StateConnecting:   "connecting",
		StateOpen:         "open",
		StateReconnecting: "reconnecting",
		StateDestroyed:    "destroyed",
		State(42):         "state(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
