// Package client is the consumer side of roomcast: a LiveConnection that holds
// one push stream to a room and reconnects with bounded backoff, a
// MessageReconciler that merges history with live pushes, and a Session tying
// the two together.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"roomcast/pkg/types"
)

// State is the lifecycle state of a LiveConnection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventStream yields the payload of each event frame in server write order.
type EventStream interface {
	Next() ([]byte, error)
	Close() error
}

// Dialer opens an EventStream for a room subscription.
type Dialer interface {
	Dial(ctx context.Context, roomID int64, userID string) (EventStream, error)
}

// Timer is a pending scheduled function.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a LiveConnection. Callbacks may be nil.
type Options struct {
	Dialer      Dialer
	Scheduler   Scheduler
	BaseDelay   time.Duration
	MaxAttempts int
	Logger      *zerolog.Logger

	OnConnected   func(types.ConnectedData)
	OnMessages    func([]*types.Message)
	OnStatus      func(types.UserStatusData)
	OnExhausted   func(attempts int)
	OnStateChange func(State)
}

// LiveConnection owns one push stream to a room. Transport failures move it
// to Reconnecting and retry per its ReconnectPolicy.
//
// Every transport and every pending retry timer belongs to an epoch; teardown
// bumps the epoch so late results from a previous connection are dropped.
// Callbacks are serialized and never invoked after Destroy.
type LiveConnection struct {
	dialer    Dialer
	scheduler Scheduler
	logger    zerolog.Logger
	cb        Options

	mu        sync.Mutex
	state     State
	roomID    int64
	userID    string
	epoch     uint64
	stream    EventStream
	cancel    context.CancelFunc
	timer     Timer
	policy    *ReconnectPolicy
	exhausted bool

	queueMu   sync.Mutex
	queue     []func()
	draining  bool
	destroyed atomic.Bool
}

// NewLiveConnection creates an idle LiveConnection.
func NewLiveConnection(opts Options) (*LiveConnection, error) {
	if opts.Dialer == nil {
		return nil, ErrNoDialer
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = realScheduler{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "live").Logger()
	}
	return &LiveConnection{
		dialer:    opts.Dialer,
		scheduler: scheduler,
		logger:    logger,
		cb:        opts,
		policy:    NewReconnectPolicy(opts.BaseDelay, opts.MaxAttempts),
	}, nil
}

// Connect subscribes to roomID as userID. It is a no-op while a connection
// for the same pair is connecting or open; otherwise the current transport is
// torn down and a fresh attempt starts with a reset retry budget.
func (c *LiveConnection) Connect(roomID int64, userID string) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if (c.state == StateConnecting || c.state == StateOpen) && c.roomID == roomID && c.userID == userID {
		c.mu.Unlock()
		return nil
	}

	c.teardownLocked()
	c.roomID = roomID
	c.userID = userID
	c.policy.Reset()
	c.exhausted = false
	changed := c.setStateLocked(StateConnecting)
	c.startLocked()
	c.mu.Unlock()

	if changed {
		c.emitState(StateConnecting)
	}
	return nil
}

// Disconnect closes the transport, cancels any pending retry and returns to Idle.
func (c *LiveConnection) Disconnect() {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.exhausted = false
	c.policy.Reset()
	changed := c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if changed {
		c.emitState(StateIdle)
	}
}

// Destroy permanently stops the connection. No callback runs after Destroy
// returns, and later Connect calls fail with ErrDestroyed.
func (c *LiveConnection) Destroy() {
	c.destroyed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return
	}
	c.teardownLocked()
	c.state = StateDestroyed
}

// State returns the current state.
func (c *LiveConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exhausted reports whether the retry budget ran out. The connection stays
// in Reconnecting until Connect, Disconnect or Destroy.
func (c *LiveConnection) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Attempts returns the number of retries scheduled since the last open.
func (c *LiveConnection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Attempts()
}

// Target returns the room and user of the current or last subscription.
func (c *LiveConnection) Target() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.userID
}

// setStateLocked reports whether the state changed.
func (c *LiveConnection) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

// teardownLocked invalidates the current epoch and releases its resources.
func (c *LiveConnection) teardownLocked() {
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}

// startLocked launches a transport attempt in the current epoch.
func (c *LiveConnection) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx, c.epoch, c.roomID, c.userID)
}

func (c *LiveConnection) run(ctx context.Context, epoch uint64, roomID int64, userID string) {
	stream, err := c.dialer.Dial(ctx, roomID, userID)
	if err != nil {
		c.fail(epoch, err)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.stream = stream
	c.policy.Reset()
	changed := c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.logger.Debug().Int64("room_id", roomID).Str("user_id", userID).Msg("Live connection open")
	if changed {
		c.emitState(StateOpen)
	}

	for {
		frame, err := stream.Next()
		if err != nil {
			c.fail(epoch, err)
			return
		}
		if !c.current(epoch) {
			return
		}
		c.handleFrame(epoch, frame)
	}
}

func (c *LiveConnection) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// fail moves the connection to Reconnecting and schedules the next attempt,
// or marks it exhausted when the policy refuses.
func (c *LiveConnection) fail(epoch uint64, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	changed := c.setStateLocked(StateReconnecting)

	delay, ok := c.policy.Next()
	attempts := c.policy.Attempts()
	if ok {
		next := c.epoch
		c.timer = c.scheduler.AfterFunc(delay, func() { c.retry(next) })
	} else {
		c.exhausted = true
	}
	roomID := c.roomID
	c.mu.Unlock()

	if changed {
		c.emitState(StateReconnecting)
	}
	if ok {
		c.logger.Warn().Err(cause).Int64("room_id", roomID).
			Int("attempt", attempts).Dur("delay", delay).Msg("Live connection lost, retrying")
		return
	}
	c.logger.Error().Err(cause).Int64("room_id", roomID).
		Int("attempts", attempts).Msg("Live connection retries exhausted")
	c.dispatch(func() {
		if c.cb.OnExhausted != nil {
			c.cb.OnExhausted(attempts)
		}
	})
}

// retry runs on the scheduler. Timers from an older epoch are dropped.
func (c *LiveConnection) retry(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	changed := c.setStateLocked(StateConnecting)
	c.startLocked()
	c.mu.Unlock()

	if changed {
		c.emitState(StateConnecting)
	}
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleFrame decodes one frame. Its callbacks run only while epoch is still
// current when they are dequeued.
func (c *LiveConnection) handleFrame(epoch uint64, frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed frame")
		return
	}

	switch env.Type {
	case types.EventConnected:
		var data types.ConnectedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Warn().Err(err).Str("type", env.Type).Msg("Dropping malformed frame")
			return
		}
		c.dispatch(func() {
			if c.cb.OnConnected != nil && c.current(epoch) {
				c.cb.OnConnected(data)
			}
		})
	case types.EventNewMessage:
		var msg types.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.logger.Warn().Err(err).Str("type", env.Type).Msg("Dropping malformed frame")
			return
		}
		c.dispatch(func() {
			if c.cb.OnMessages != nil && c.current(epoch) {
				c.cb.OnMessages([]*types.Message{&msg})
			}
		})
	case types.EventUserStatus:
		var data types.UserStatusData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Warn().Err(err).Str("type", env.Type).Msg("Dropping malformed frame")
			return
		}
		c.dispatch(func() {
			if c.cb.OnStatus != nil && c.current(epoch) {
				c.cb.OnStatus(data)
			}
		})
	case types.EventError:
		var data types.ErrorData
		_ = json.Unmarshal(env.Data, &data)
		c.logger.Warn().Str("message", data.Message).Msg("Server reported error")
	default:
		c.logger.Debug().Str("type", env.Type).Msg("Ignoring unknown event")
	}
}

func (c *LiveConnection) emitState(s State) {
	c.dispatch(func() {
		if c.cb.OnStateChange != nil {
			c.cb.OnStateChange(s)
		}
	})
}

// dispatch queues fn and drains the queue unless another caller already is,
// so callbacks never overlap and may re-enter the connection.
func (c *LiveConnection) dispatch(fn func()) {
	c.queueMu.Lock()
	c.queue = append(c.queue, fn)
	if c.draining {
		c.queueMu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.queueMu.Unlock()
		if !c.destroyed.Load() {
			next()
		}
		c.queueMu.Lock()
	}
	c.draining = false
	c.queueMu.Unlock()
}
