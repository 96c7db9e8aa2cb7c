package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"roomcast/pkg/types"
)

// SessionOptions configures a Session. Callbacks may be nil.
type SessionOptions struct {
	Dialer       Dialer
	History      HistoryFetcher
	HistoryLimit int
	Scheduler    Scheduler
	BaseDelay    time.Duration
	MaxAttempts  int
	Logger       *zerolog.Logger

	// OnMessages receives messages newly added to the room sequence, from
	// history seeding, live pushes and resyncs alike.
	OnMessages    func([]*types.Message)
	OnStatus      func(types.UserStatusData)
	OnExhausted   func(attempts int)
	OnStateChange func(State)
}

// Session joins one user to one room at a time: it seeds history, keeps the
// live connection and resyncs after every reconnect.
type Session struct {
	live       *LiveConnection
	reconciler *MessageReconciler
	logger     zerolog.Logger
	opts       SessionOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	connects  int
	deliverMu sync.Mutex
	closed    atomic.Bool
}

// NewSession creates a session that is not yet in any room.
func NewSession(opts SessionOptions) (*Session, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "session").Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		reconciler: NewMessageReconciler(opts.History, opts.HistoryLimit),
		logger:     logger,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
	}

	live, err := NewLiveConnection(Options{
		Dialer:        opts.Dialer,
		Scheduler:     opts.Scheduler,
		BaseDelay:     opts.BaseDelay,
		MaxAttempts:   opts.MaxAttempts,
		Logger:        opts.Logger,
		OnConnected:   s.handleConnected,
		OnMessages:    s.handleMessages,
		OnStatus:      opts.OnStatus,
		OnExhausted:   opts.OnExhausted,
		OnStateChange: opts.OnStateChange,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.live = live
	return s, nil
}

// Enter switches the session to roomID: the message sequence is reset and
// seeded from history, then the live connection subscribes. A history
// failure is returned after the live connection has been started.
func (s *Session) Enter(ctx context.Context, roomID int64, userID string) error {
	// Re-entering the room the live connection already serves keeps the
	// connected count, since Connect is then a no-op and no new connected
	// event arrives.
	room, user := s.live.Target()
	state := s.live.State()
	if room != roomID || user != userID || (state != StateConnecting && state != StateOpen) {
		s.mu.Lock()
		s.connects = 0
		s.mu.Unlock()
	}

	seeded, histErr := s.reconciler.EnterRoom(ctx, roomID)
	if histErr != nil {
		s.logger.Warn().Err(histErr).Int64("room_id", roomID).Msg("History seed failed")
	}
	s.deliver(seeded)

	if err := s.live.Connect(roomID, userID); err != nil {
		return err
	}
	return histErr
}

func (s *Session) handleConnected(data types.ConnectedData) {
	s.mu.Lock()
	s.connects++
	n := s.connects
	s.mu.Unlock()
	if n < 2 {
		return
	}

	go func() {
		added, err := s.reconciler.Resync(s.ctx)
		if err != nil {
			s.logger.Warn().Err(err).Int64("room_id", data.RoomID).Msg("Resync after reconnect failed")
			return
		}
		s.deliver(added)
	}()
}

func (s *Session) handleMessages(msgs []*types.Message) {
	s.deliver(s.reconciler.Merge(msgs))
}

func (s *Session) deliver(msgs []*types.Message) {
	if len(msgs) == 0 || s.opts.OnMessages == nil {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed.Load() {
		return
	}
	s.opts.OnMessages(msgs)
}

// Messages returns the reconciled sequence of the current room.
func (s *Session) Messages() []*types.Message {
	return s.reconciler.Messages()
}

// State returns the live connection state.
func (s *Session) State() State {
	return s.live.State()
}

// Exhausted reports whether the live connection gave up reconnecting.
func (s *Session) Exhausted() bool {
	return s.live.Exhausted()
}

// Close destroys the live connection and stops delivery. Pending resyncs are
// canceled.
func (s *Session) Close() {
	s.closed.Store(true)
	s.cancel()
	s.live.Destroy()
}
