// Package eventbus provides the ordered, replayable progress-event stream
// for pipeline sessions.
package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
)

// Journal receives every published event for durable storage. Append is
// called under the session's publish lock, so journal writes observe the
// same gap-free ordering as subscribers. NextSeq warms a session's in-memory
// counter from the durable log, so a restarted process continues a session's
// sequence instead of colliding with journaled rows.
type Journal interface {
	Append(ctx context.Context, event domain.Event) error
	NextSeq(ctx context.Context, sessionID string) (int64, error)
}

// subscriberBuffer is the channel capacity handed to each subscriber. A
// subscriber that falls this far behind is disconnected rather than allowed
// to block the publisher; it can reconnect with replay from its last seq.
const subscriberBuffer = 256

// Bus is an append-only ordered event log per session, broadcast to live
// subscribers. Only the scheduler and the simulation engine publish, so the
// only producer-side synchronization needed is the per-session sequence
// counter increment.
type Bus struct {
	mu       sync.Mutex
	journal  Journal
	sessions map[string]*sessionLog
}

type sessionLog struct {
	nextSeq int64
	events  []domain.Event
	subs    map[int]chan domain.Event
	nextSub int
}

// New creates a Bus. journal may be nil for purely in-memory operation.
func New(journal Journal) *Bus {
	return &Bus{
		journal:  journal,
		sessions: make(map[string]*sessionLog),
	}
}

// Publish appends an event with the session's next sequence number and fans
// it out to all live subscribers. The payload is JSON-marshaled; a nil
// payload becomes "{}".
func (b *Bus) Publish(ctx context.Context, sessionID, kind string, payload any) domain.Event {
	payloadJSON := "{}"
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			payloadJSON = string(data)
		}
	}

	b.mu.Lock()
	sl := b.session(sessionID)
	event := domain.Event{
		SessionID:     sessionID,
		Seq:           sl.nextSeq,
		Kind:          kind,
		PayloadJSON:   payloadJSON,
		CreatedAtUnix: time.Now().Unix(),
	}
	sl.nextSeq++
	sl.events = append(sl.events, event)

	for id, ch := range sl.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop it so the hot path never blocks.
			close(ch)
			delete(sl.subs, id)
		}
	}
	if b.journal != nil {
		// Journaling inside the lock keeps the durable log in the same
		// order as the sequence counter.
		if err := b.journal.Append(ctx, event); err != nil {
			log.Printf("eventbus: journal append for session %s seq %d: %v", sessionID, event.Seq, err)
		}
	}
	b.mu.Unlock()
	return event
}

// Subscribe returns a live, ordered stream of the session's events starting
// at fromSeq (0 for a fresh subscriber). Events already published are
// replayed first; the channel closes when ctx is done or the subscriber
// falls too far behind.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, fromSeq int64) <-chan domain.Event {
	out := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	sl := b.session(sessionID)

	// Replay the backlog into the buffered channel before registering for
	// live delivery, so seq order is preserved across the boundary.
	var backlog []domain.Event
	for _, ev := range sl.events {
		if ev.Seq >= fromSeq {
			backlog = append(backlog, ev)
		}
	}

	live := make(chan domain.Event, subscriberBuffer)
	id := sl.nextSub
	sl.nextSub++
	sl.subs[id] = live
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer b.unsubscribe(sessionID, id)

		for _, ev := range backlog {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		// Live events published during replay are buffered in live; skip
		// any that the backlog already delivered.
		delivered := fromSeq
		if n := len(backlog); n > 0 {
			delivered = backlog[n-1].Seq + 1
		}
		for {
			select {
			case ev, ok := <-live:
				if !ok {
					return
				}
				if ev.Seq < delivered {
					continue
				}
				select {
				case out <- ev:
					delivered = ev.Seq + 1
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Events returns a copy of the session's log from fromSeq onward.
func (b *Bus) Events(sessionID string, fromSeq int64) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sl, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	var out []domain.Event
	for _, ev := range sl.events {
		if ev.Seq >= fromSeq {
			out = append(out, ev)
		}
	}
	return out
}

// NextSeq returns the sequence number the next published event will carry.
func (b *Bus) NextSeq(sessionID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sl, ok := b.sessions[sessionID]; ok {
		return sl.nextSeq
	}
	return 0
}

// Drop discards a session's log and disconnects its subscribers. Used when
// session artifacts expire.
func (b *Bus) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sl, ok := b.sessions[sessionID]; ok {
		for _, ch := range sl.subs {
			close(ch)
		}
		delete(b.sessions, sessionID)
	}
}

func (b *Bus) session(sessionID string) *sessionLog {
	sl, ok := b.sessions[sessionID]
	if !ok {
		sl = &sessionLog{subs: make(map[int]chan domain.Event)}
		if b.journal != nil {
			// Resume the session's sequence where the durable log left off;
			// a fresh process would otherwise restart at 0 and collide with
			// journaled rows.
			next, err := b.journal.NextSeq(context.Background(), sessionID)
			if err != nil {
				log.Printf("eventbus: warm seq for session %s: %v", sessionID, err)
			} else {
				sl.nextSeq = next
			}
		}
		b.sessions[sessionID] = sl
	}
	return sl
}

func (b *Bus) unsubscribe(sessionID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sl, ok := b.sessions[sessionID]; ok {
		if ch, ok := sl.subs[id]; ok {
			delete(sl.subs, id)
			close(ch)
		}
	}
}
