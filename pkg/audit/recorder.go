package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the default capacity of the dispatch channel.
const DefaultBufferSize = 1024

// Recorder dispatches audit events to a Sink from a background goroutine.
//
// Record never blocks and never returns an error: when the buffer is full
// the entry is dropped and the drop is logged and counted. Close stops
// intake and drains whatever is already buffered.
type Recorder struct {
	sink   Sink
	logger zerolog.Logger

	entries chan Entry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	// onWriteFailure, when set, observes every failed or dropped entry.
	// Used to feed metrics; must not block.
	onWriteFailure func(entry Entry, err error)

	now func() time.Time
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Sink receives every recorded entry (required).
	Sink Sink

	// BufferSize is the dispatch channel capacity. Zero means
	// DefaultBufferSize.
	BufferSize int

	// Logger receives write-failure and drop diagnostics.
	Logger zerolog.Logger

	// OnWriteFailure observes entries that could not be persisted.
	OnWriteFailure func(entry Entry, err error)
}

// NewRecorder creates a Recorder and starts its writer goroutine.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("audit sink is required")
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	r := &Recorder{
		sink:           cfg.Sink,
		logger:         cfg.Logger.With().Str("component", "audit").Logger(),
		entries:        make(chan Entry, size),
		done:           make(chan struct{}),
		onWriteFailure: cfg.OnWriteFailure,
		now:            time.Now,
	}

	go r.run()
	return r, nil
}

// Record enqueues an event for persistence. It assigns the entry a
// time-sortable id and the current UTC timestamp, then returns without
// waiting for the write. Calls after Close are dropped.
func (r *Recorder) Record(event Event) {
	entry := Entry{
		ID:             xid.New().String(),
		Action:         event.Action,
		ActorUserID:    event.ActorUserID,
		OrganizationID: event.OrganizationID,
		ItemID:         event.ItemID,
		Metadata:       event.Metadata,
		ClientIP:       event.ClientIP,
		Timestamp:      r.now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.fail(entry, fmt.Errorf("recorder is closed"))
		return
	}

	select {
	case r.entries <- entry:
	default:
		r.fail(entry, fmt.Errorf("audit buffer full, entry dropped"))
	}
}

// Close stops intake and drains the buffered entries. It returns early
// with the context error if draining outlives the context.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for entry := range r.entries {
		if err := r.sink.Append(entry); err != nil {
			r.fail(entry, err)
		}
	}
}

func (r *Recorder) fail(entry Entry, err error) {
	r.logger.Warn().
		Err(err).
		Str("action", string(entry.Action)).
		Str("organization_id", entry.OrganizationID).
		Str("actor_user_id", entry.ActorUserID).
		Msg("Audit entry lost")

	if r.onWriteFailure != nil {
		r.onWriteFailure(entry, err)
	}
}
