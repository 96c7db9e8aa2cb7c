package client

import (
	"context"
	"fmt"
	"sync"

	"roomcast/pkg/types"
)

const DefaultHistoryLimit = 50

// MessageReconciler keeps the ordered, id-deduplicated message sequence of
// the current room. History and live pushes may race; whichever copy of a
// message arrives second is discarded.
type MessageReconciler struct {
	fetcher HistoryFetcher
	limit   int

	mu         sync.Mutex
	roomID     int64
	entered    bool
	generation uint64
	messages   []*types.Message
	seen       map[int64]struct{}
}

// NewMessageReconciler creates a reconciler. A non-positive limit selects
// DefaultHistoryLimit.
func NewMessageReconciler(fetcher HistoryFetcher, limit int) *MessageReconciler {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MessageReconciler{
		fetcher: fetcher,
		limit:   limit,
		seen:    make(map[int64]struct{}),
	}
}

// EnterRoom discards the current sequence and seeds it with the latest
// history of roomID. Messages merged while the fetch is in flight are kept
// after the seeded history. A fetch overtaken by a newer EnterRoom is discarded.
func (r *MessageReconciler) EnterRoom(ctx context.Context, roomID int64) ([]*types.Message, error) {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.roomID = roomID
	r.entered = true
	r.messages = nil
	r.seen = make(map[int64]struct{})
	r.mu.Unlock()

	if r.fetcher == nil {
		return nil, nil
	}
	history, err := r.fetcher.LatestMessages(ctx, roomID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("seed room %d: %w", roomID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return nil, nil
	}
	live := r.messages
	r.messages = nil
	seeded := r.mergeLocked(history)
	r.messages = append(r.messages, live...)
	return seeded, nil
}

// Merge appends messages with unseen ids in arrival order and returns the
// ones that were added. Messages for another room are ignored.
func (r *MessageReconciler) Merge(msgs []*types.Message) []*types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeLocked(msgs)
}

// Resync fetches the latest history of the current room and merges it,
// recovering messages missed while disconnected.
func (r *MessageReconciler) Resync(ctx context.Context) ([]*types.Message, error) {
	r.mu.Lock()
	if !r.entered || r.fetcher == nil {
		r.mu.Unlock()
		return nil, nil
	}
	gen := r.generation
	roomID := r.roomID
	r.mu.Unlock()

	history, err := r.fetcher.LatestMessages(ctx, roomID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("resync room %d: %w", roomID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return nil, nil
	}
	return r.mergeLocked(history), nil
}

func (r *MessageReconciler) mergeLocked(msgs []*types.Message) []*types.Message {
	if !r.entered {
		return nil
	}
	var added []*types.Message
	for _, m := range msgs {
		if m == nil || m.RoomID != r.roomID {
			continue
		}
		if _, ok := r.seen[m.ID]; ok {
			continue
		}
		r.seen[m.ID] = struct{}{}
		r.messages = append(r.messages, m)
		added = append(added, m)
	}
	return added
}

// Messages returns a copy of the current sequence.
func (r *MessageReconciler) Messages() []*types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Room returns the current room, or false before the first EnterRoom.
func (r *MessageReconciler) Room() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID, r.entered
}
