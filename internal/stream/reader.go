// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCancelled is returned by Next once the stream was cancelled by the
	// caller. It also matches context.Canceled.
	ErrCancelled = errors.New("stream cancelled")

	// ErrNoBody means the response had no body to read.
	ErrNoBody = errors.New("no response body")

	// ErrIdleTimeout means no bytes arrived within the idle timeout.
	ErrIdleTimeout = errors.New("stream idle timeout")

	// ErrLineTooLong means an unterminated line exceeded the size limit.
	ErrLineTooLong = errors.New("stream line too long")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of a Reader.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events can be produced.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// =============================================================================
// READER
// =============================================================================

// Opener starts the request. It must honour ctx so that cancelling the
// Reader aborts the network operation.
type Opener func(ctx context.Context) (*http.Response, error)

// DefaultMaxLineSize bounds a single unterminated line.
const DefaultMaxLineSize = 8 << 20

const readChunkSize = 32 * 1024

// Option configures a Reader.
type Option func(*Reader)

// WithIdleTimeout fails the stream when no bytes arrive for d. Zero
// disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Reader) { r.idleTimeout = d }
}

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// WithLogger sets the logger used for dropped lines.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// Reader is a lazy sequence of Events read from one streaming response.
// Nothing happens until the first call to Next. Next must not be called
// concurrently; Close and State are safe from any goroutine.
type Reader struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	open   Opener

	idleTimeout time.Duration
	maxLine     int
	log         *slog.Logger

	state atomic.Int32
	err   error

	mu       sync.Mutex
	body     io.ReadCloser
	idle     *time.Timer
	released bool

	decoder   *UTF8Decoder
	lines     LineBuffer
	eventName string
	pending   []Event
	chunk     []byte
	// eof is set when a Read returned data together with io.EOF; the
	// stream finishes once those events have been handed out.
	eof bool
}

// New returns a Reader that will call open on the first Next.
func New(ctx context.Context, open Opener, opts ...Option) *Reader {
	rctx, cancel := context.WithCancelCause(ctx)
	r := &Reader{
		ctx:     rctx,
		cancel:  cancel,
		open:    open,
		maxLine: DefaultMaxLineSize,
		log:     slog.Default(),
		decoder: NewUTF8Decoder(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromResponse wraps an already received response.
func FromResponse(ctx context.Context, resp *http.Response, opts ...Option) *Reader {
	return New(ctx, func(context.Context) (*http.Response, error) { return resp, nil }, opts...)
}

// State returns the current lifecycle state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Next returns the next event. At the end of the stream it returns io.EOF.
// After cancellation it returns an error matching ErrCancelled, and any
// other failure is returned as is. Once Next has returned an error it keeps
// returning the same error.
func (r *Reader) Next() (Event, error) {
	for {
		if st := r.State(); st.Terminal() {
			return Event{}, r.terminalErr(st)
		}
		if r.ctx.Err() != nil {
			r.abort(nil)
			continue
		}

		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}

		if r.State() == StateIdle {
			r.connect()
			continue
		}

		r.readChunk()
	}
}

// All adapts the Reader to a range-over-func sequence. Normal completion
// ends the loop silently; any other error is yielded once. Breaking out of
// the loop closes the Reader.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				r.Close()
				return
			}
		}
	}
}

// Close cancels the stream and releases the response body. Events not yet
// returned by Next are discarded. Closing a finished Reader is a no-op.
func (r *Reader) Close() error {
	r.cancel(ErrCancelled)
	if r.transition(StateCancelled) {
		r.log.Debug("stream cancelled")
	}
	r.release()
	return nil
}

func (r *Reader) connect() {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return
	}

	resp, err := r.open(r.ctx)
	if err != nil {
		if r.ctx.Err() != nil {
			r.abort(err)
			return
		}
		r.fail(err)
		return
	}

	// http.NoBody is an empty stream, not a missing one.
	hasBody := resp.Body != nil
	if !r.attach(resp.Body) {
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.fail(&StatusError{StatusCode: resp.StatusCode})
		return
	}
	if !hasBody {
		r.fail(ErrNoBody)
		return
	}

	r.chunk = make([]byte, readChunkSize)
	r.state.CompareAndSwap(int32(StateConnecting), int32(StateStreaming))
}

// attach records the body so Close can release it. It reports false when
// the Reader was closed while the request was in flight.
func (r *Reader) attach(body io.ReadCloser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		if body != nil {
			body.Close()
		}
		return false
	}
	r.body = body
	if r.idleTimeout > 0 {
		r.idle = time.AfterFunc(r.idleTimeout, func() { r.cancel(ErrIdleTimeout) })
	}
	return true
}

func (r *Reader) readChunk() {
	if r.eof {
		r.end()
		return
	}
	n, err := r.body.Read(r.chunk)
	if n > 0 {
		r.touch()
		r.process(r.chunk[:n])
	}
	if err == nil {
		return
	}
	if n > 0 && errors.Is(err, io.EOF) && r.ctx.Err() == nil {
		r.eof = true
		r.stopIdle()
		return
	}

	switch {
	case r.ctx.Err() != nil:
		r.abort(err)
	case errors.Is(err, io.EOF):
		r.end()
	default:
		r.fail(err)
	}
}

// end completes the stream. An unterminated tail at EOF is never parsed.
func (r *Reader) end() {
	if r.lines.Len() > 0 {
		r.log.Debug("stream ended with partial line", "bytes", r.lines.Len())
	}
	r.finish()
}

func (r *Reader) process(chunk []byte) {
	text := r.decoder.Decode(chunk)
	for _, line := range r.lines.Feed(text) {
		kind, rest := classifyLine(line)
		switch kind {
		case lineEvent:
			r.eventName = rest
		case lineData:
			events := ParseData(rest)
			if len(events) == 0 && rest != "" {
				r.log.Debug("dropping unrecognised data line", "payload", rest)
			}
			for i := range events {
				events[i].Name = r.eventName
			}
			r.pending = append(r.pending, events...)
			r.eventName = ""
		}
	}
	if r.lines.Len() > r.maxLine {
		r.fail(fmt.Errorf("%w: %d bytes", ErrLineTooLong, r.lines.Len()))
	}
}

// abort settles a stream whose context ended. The cancel cause decides
// whether it was the caller or the idle timer.
func (r *Reader) abort(err error) {
	cause := context.Cause(r.ctx)
	if errors.Is(cause, ErrIdleTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		r.fail(cause)
		return
	}
	if r.transition(StateCancelled) && err != nil {
		r.log.Debug("stream aborted", "error", err)
	}
	r.release()
}

func (r *Reader) fail(err error) {
	if r.transition(StateErrored) {
		r.err = err
		r.log.Debug("stream failed", "error", err)
	}
	r.cancel(err)
	r.release()
}

func (r *Reader) finish() {
	r.transition(StateCompleted)
	r.cancel(io.EOF)
	r.release()
}

// transition moves to a terminal state unless one was already reached.
func (r *Reader) transition(to State) bool {
	for {
		cur := r.state.Load()
		if State(cur).Terminal() {
			return false
		}
		if r.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

func (r *Reader) touch() {
	r.mu.Lock()
	if r.idle != nil && !r.released {
		r.idle.Reset(r.idleTimeout)
	}
	r.mu.Unlock()
}

// stopIdle disarms the idle timeout once the body has been fully read.
func (r *Reader) stopIdle() {
	r.mu.Lock()
	if r.idle != nil {
		r.idle.Stop()
	}
	r.mu.Unlock()
}

func (r *Reader) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	if r.idle != nil {
		r.idle.Stop()
	}
	if r.body != nil {
		r.body.Close()
	}
}

func (r *Reader) terminalErr(st State) error {
	switch st {
	case StateCompleted:
		return io.EOF
	case StateCancelled:
		return fmt.Errorf("%w: %w", ErrCancelled, context.Canceled)
	default:
		return r.err
	}
}
