// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// chunkBody hands out one chunk per Read so tests control chunk boundaries.
type chunkBody struct {
	mu     sync.Mutex
	chunks [][]byte
	reads  atomic.Int32
	closed atomic.Bool
	// eofWithLast returns io.EOF together with the final chunk, as
	// net/http bodies often do.
	eofWithLast bool
}

func newChunkBody(chunks ...string) *chunkBody {
	b := &chunkBody{}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

func (b *chunkBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	b.reads.Add(1)
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	if b.eofWithLast && len(b.chunks) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func (b *chunkBody) Close() error {
	b.closed.Store(true)
	return nil
}

func okResponse(body io.ReadCloser) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: body, Header: http.Header{}}
}

func readerFor(t *testing.T, chunks ...string) (*Reader, *chunkBody) {
	t.Helper()
	body := newChunkBody(chunks...)
	return FromResponse(context.Background(), okResponse(body)), body
}

// recorder collects callback invocations in order.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	messages []string
	doneID   int64
	content  string
	errors   []string
}

func (rec *recorder) callbacks() Callbacks {
	return Callbacks{
		OnMessage: func(delta string) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.calls = append(rec.calls, "message")
			rec.messages = append(rec.messages, delta)
		},
		OnDone: func(id int64, content string) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.calls = append(rec.calls, "done")
			rec.doneID, rec.content = id, content
		},
		OnError: func(reason string) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.calls = append(rec.calls, "error")
			rec.errors = append(rec.errors, reason)
		},
	}
}

func collect(t *testing.T, r *Reader) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := r.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseData(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []Event
	}{
		{"delta", `{"delta":"Hi"}`, []Event{{Kind: KindDelta, Delta: "Hi"}}},
		{"done", `{"message_id":5,"content":"Hi"}`, []Event{{Kind: KindDone, MessageID: 5, Content: "Hi"}}},
		{"error", `{"msg":"quota exceeded"}`, []Event{{Kind: KindError, Msg: "quota exceeded"}}},
		{"null done fields still count", `{"message_id":null,"content":null}`, []Event{{Kind: KindDone}}},
		{"done needs both fields", `{"message_id":5}`, nil},
		{"empty delta ignored", `{"delta":""}`, nil},
		{"numeric delta ignored", `{"delta":5}`, nil},
		{"empty msg ignored", `{"msg":""}`, nil},
		{"array", `[1,2]`, nil},
		{"string", `"delta"`, nil},
		{"malformed", `{not json}`, nil},
		{"empty", ``, nil},
		{"all three in order", `{"msg":"m","content":"c","message_id":1,"delta":"d"}`, []Event{
			{Kind: KindDelta, Delta: "d"},
			{Kind: KindDone, MessageID: 1, Content: "c"},
			{Kind: KindError, Msg: "m"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseData(tt.payload))
		})
	}
}

func TestClassifyLine(t *testing.T) {
	kind, rest := classifyLine(`data:  {"delta":"x"}  ` + "\r")
	assert.Equal(t, lineData, kind)
	assert.Equal(t, `{"delta":"x"}`, rest)

	kind, rest = classifyLine("event:message")
	assert.Equal(t, lineEvent, kind)
	assert.Equal(t, "message", rest)

	kind, _ = classifyLine(": keep-alive")
	assert.Equal(t, lineOther, kind)

	kind, _ = classifyLine(` data: {"delta":"x"}`)
	assert.Equal(t, lineOther, kind, "prefix must start the line")
}

// =============================================================================
// FRAMING AND DECODING
// =============================================================================

func TestLineBuffer(t *testing.T) {
	var b LineBuffer

	assert.Empty(t, b.Feed([]byte("data: one")))
	assert.Equal(t, "data: one", b.Pending())

	assert.Equal(t, []string{"data: one", ""}, b.Feed([]byte("\n\ndata: tw")))
	assert.Equal(t, "data: tw", b.Pending())

	assert.Equal(t, []string{"data: two", "x"}, b.Feed([]byte("o\nx\n")))
	assert.Equal(t, 0, b.Len())

	b.Feed([]byte("partial"))
	b.Reset()
	assert.Equal(t, "", b.Pending())
}

func TestUTF8Decoder(t *testing.T) {
	t.Run("split two-byte character", func(t *testing.T) {
		d := NewUTF8Decoder()
		assert.Equal(t, "caf", string(d.Decode([]byte("caf\xc3"))))
		assert.Equal(t, 1, d.Carried())
		assert.Equal(t, "é!", string(d.Decode([]byte("\xa9!"))))
		assert.Equal(t, 0, d.Carried())
	})

	t.Run("three chunks for one character", func(t *testing.T) {
		d := NewUTF8Decoder()
		var out strings.Builder
		for _, c := range [][]byte{{0xe6}, {0x97}, {0xa5}} {
			out.Write(d.Decode(c))
		}
		assert.Equal(t, "日", out.String())
	})

	t.Run("leading BOM dropped", func(t *testing.T) {
		d := NewUTF8Decoder()
		assert.Equal(t, "data", string(d.Decode([]byte("\xef\xbb\xbfdata"))))
	})

	t.Run("invalid byte replaced", func(t *testing.T) {
		d := NewUTF8Decoder()
		assert.Equal(t, "a�b", string(d.Decode([]byte("a\xffb"))))
	})

	t.Run("large chunk", func(t *testing.T) {
		d := NewUTF8Decoder()
		big := strings.Repeat("ü", 50000)
		assert.Equal(t, big, string(d.Decode([]byte(big))))
	})
}

// =============================================================================
// READER
// =============================================================================

func TestReader_PartialLineWaitsForNewline(t *testing.T) {
	body := newChunkBody(`data: {"delta":"He`, `llo"}`+"\n")
	r := FromResponse(context.Background(), okResponse(body))

	var readsAtCall []int32
	var rec recorder
	cb := rec.callbacks()
	onMessage := cb.OnMessage
	cb.OnMessage = func(delta string) {
		readsAtCall = append(readsAtCall, body.reads.Load())
		onMessage(delta)
	}

	state := Dispatch(r, cb)

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []string{"Hello"}, rec.messages)
	assert.Equal(t, []int32{2}, readsAtCall, "delta must fire only after the second chunk")
	assert.Empty(t, rec.errors)
}

func TestReader_DeltaThenDone(t *testing.T) {
	r, body := readerFor(t,
		`data: {"delta":"Hi"}`+"\n\n",
		`data: {"message_id":5,"content":"Hi"}`+"\n",
	)
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []string{"message", "done"}, rec.calls)
	assert.Equal(t, int64(5), rec.doneID)
	assert.Equal(t, "Hi", rec.content)
	assert.True(t, body.closed.Load(), "body closed at end of stream")
}

func TestReader_MalformedLineSkipped(t *testing.T) {
	r, _ := readerFor(t, "data: {not json}\n", `data: {"delta":"ok"}`+"\n")
	var rec recorder

	Dispatch(r, rec.callbacks())

	assert.Equal(t, []string{"ok"}, rec.messages)
	assert.Empty(t, rec.errors)
}

func TestReader_MultibyteAcrossChunks(t *testing.T) {
	r, _ := readerFor(t, `data: {"delta":"caf`+"\xc3", "\xa9"+`"}`+"\n")
	var rec recorder

	Dispatch(r, rec.callbacks())

	assert.Equal(t, []string{"café"}, rec.messages)
}

func TestReader_UnterminatedTailDroppedAtEOF(t *testing.T) {
	r, _ := readerFor(t, `data: {"delta":"first"}`+"\n", `data: {"delta":"tail"}`)

	events, err := collect(t, r)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "first", events[0].Delta)
	assert.Equal(t, StateCompleted, r.State())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")
}

func TestReader_CRLFAndEventNames(t *testing.T) {
	r, _ := readerFor(t, "event:message\r\ndata:{\"delta\":\"x\"}\r\ndata:{\"delta\":\"y\"}\r\n")

	events, err := collect(t, r)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, "message", events[0].Name)
	assert.Equal(t, "x", events[0].Delta)
	assert.Equal(t, "", events[1].Name, "event name applies to the next data line only")
}

func TestReader_EventNameDoesNotDecideKind(t *testing.T) {
	r, _ := readerFor(t, "event:error\ndata: {\"delta\":\"still text\"}\n")
	var rec recorder

	Dispatch(r, rec.callbacks())

	assert.Equal(t, []string{"message"}, rec.calls)
}

func TestReader_BackendErrorKeepsStreaming(t *testing.T) {
	r, _ := readerFor(t,
		`data: {"msg":"model overloaded"}`+"\n",
		`data: {"delta":"after"}`+"\n",
	)
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []string{"error", "message"}, rec.calls)
	assert.Equal(t, []string{"model overloaded"}, rec.errors)
}

func TestReader_StatusError(t *testing.T) {
	body := newChunkBody(`data: {"delta":"never"}` + "\n")
	r := FromResponse(context.Background(), &http.Response{StatusCode: http.StatusInternalServerError, Body: body})
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateErrored, state)
	assert.Equal(t, []string{"HTTP error! status: 500"}, rec.errors)
	assert.Empty(t, rec.messages)
	assert.True(t, body.closed.Load())

	_, err := r.Next()
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
}

func TestReader_NilBody(t *testing.T) {
	r := FromResponse(context.Background(), &http.Response{StatusCode: http.StatusOK})
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateErrored, state)
	assert.Equal(t, []string{"no response body"}, rec.errors)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestReader_EmptyBodyCompletes(t *testing.T) {
	r := FromResponse(context.Background(), &http.Response{StatusCode: http.StatusOK, Body: http.NoBody})
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateCompleted, state)
	assert.Empty(t, rec.calls)
}

func TestReader_EmptyResponseOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	var rec recorder

	state := Dispatch(FromResponse(context.Background(), resp), rec.callbacks())

	assert.Equal(t, StateCompleted, state)
	assert.Empty(t, rec.errors)
}

func TestReader_DataArrivingWithEOF(t *testing.T) {
	body := newChunkBody(`data: {"delta":"A"}` + "\n" + `data: {"message_id":5,"content":"A"}` + "\n")
	body.eofWithLast = true
	r := FromResponse(context.Background(), okResponse(body))
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []string{"message", "done"}, rec.calls)
	assert.Equal(t, []string{"A"}, rec.messages)
	assert.Equal(t, int64(5), rec.doneID)
	assert.Equal(t, "A", rec.content)
	assert.True(t, body.closed.Load())
}

func TestReader_LastChunkWithEOF(t *testing.T) {
	body := newChunkBody(
		`data: {"delta":"He`,
		`llo"}`+"\n"+`data: {"delta":" wörld"}`+"\n"+`data: {"message_id":9,"content":"Hello wörld"}`+"\n"+`data: {"delta":"tail`,
	)
	body.eofWithLast = true
	r := FromResponse(context.Background(), okResponse(body))

	events, err := collect(t, r)

	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)
	assert.Equal(t, "Hello", events[0].Delta)
	assert.Equal(t, " wörld", events[1].Delta)
	assert.Equal(t, KindDone, events[2].Kind)
	assert.Equal(t, int64(9), events[2].MessageID)
	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, int32(2), body.reads.Load())
}

func TestReader_CloseAfterDataWithEOF(t *testing.T) {
	body := newChunkBody(`data: {"delta":"A"}` + "\n" + `data: {"delta":"B"}` + "\n")
	body.eofWithLast = true
	r := FromResponse(context.Background(), okResponse(body))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", ev.Delta)

	require.NoError(t, r.Close())
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, r.State())
}

func TestReader_OpenFailure(t *testing.T) {
	r := New(context.Background(), func(context.Context) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	var rec recorder

	Dispatch(r, rec.callbacks())

	assert.Equal(t, []string{"connection refused"}, rec.errors)
	assert.Equal(t, StateErrored, r.State())
}

func TestReader_LazyOpen(t *testing.T) {
	var opened atomic.Bool
	r := New(context.Background(), func(context.Context) (*http.Response, error) {
		opened.Store(true)
		return okResponse(newChunkBody()), nil
	})

	assert.Equal(t, StateIdle, r.State())
	assert.False(t, opened.Load())

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, opened.Load())
}

func TestReader_CancelledBeforeOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var opened atomic.Bool
	r := New(ctx, func(context.Context) (*http.Response, error) {
		opened.Store(true)
		return okResponse(newChunkBody()), nil
	})

	_, err := r.Next()

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, opened.Load())
	assert.Equal(t, StateCancelled, r.State())
}

func TestReader_CloseDiscardsPending(t *testing.T) {
	r, body := readerFor(t, `data: {"delta":"a"}`+"\n"+`data: {"delta":"b"}`+"\n")

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Delta)

	require.NoError(t, r.Close())
	_, err = r.Next()

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, r.State())
	assert.True(t, body.closed.Load())
}

func TestReader_LineTooLong(t *testing.T) {
	body := newChunkBody(strings.Repeat("x", 64))
	r := FromResponse(context.Background(), okResponse(body), WithMaxLineSize(16))

	_, err := r.Next()

	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.Equal(t, StateErrored, r.State())
}

func TestReader_All(t *testing.T) {
	r, _ := readerFor(t,
		`data: {"delta":"a"}`+"\n",
		`data: {"delta":"b"}`+"\n",
		`data: {"message_id":1,"content":"ab"}`+"\n",
	)

	var kinds []Kind
	for ev, err := range r.All() {
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []Kind{KindDelta, KindDelta, KindDone}, kinds)
}

func TestReader_AllBreakCloses(t *testing.T) {
	r, body := readerFor(t, `data: {"delta":"a"}`+"\n"+`data: {"delta":"b"}`+"\n")

	for range r.All() {
		break
	}

	assert.Equal(t, StateCancelled, r.State())
	assert.True(t, body.closed.Load())
}

// =============================================================================
// OVER HTTP
// =============================================================================

func flushWrite(w http.ResponseWriter, s string) {
	io.WriteString(w, s)
	w.(http.Flusher).Flush()
}

func httpOpener(url string, client *http.Client) Opener {
	return func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, err
		}
		return client.Do(req)
	}
}

func TestReader_CancelSuppressesCallbacks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flushWrite(w, "event:message\ndata:{\"delta\":\"first\"}\n\n")
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		flushWrite(w, "event:message\ndata:{\"delta\":\"second\"}\n\n")
		flushWrite(w, "event:done\ndata:{\"message_id\":2,\"content\":\"first second\"}\n\n")
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(ctx, httpOpener(srv.URL, srv.Client()))

	var rec recorder
	cb := rec.callbacks()
	onMessage := cb.OnMessage
	cb.OnMessage = func(delta string) {
		onMessage(delta)
		cancel()
	}

	done := make(chan State, 1)
	go func() { done <- Dispatch(r, cb) }()

	select {
	case state := <-done:
		assert.Equal(t, StateCancelled, state)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancel")
	}
	assert.Equal(t, []string{"message"}, rec.calls)
	assert.Empty(t, rec.errors, "cancellation is not an error")
}

func TestReader_IdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := New(context.Background(), httpOpener(srv.URL, srv.Client()), WithIdleTimeout(50*time.Millisecond))
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateErrored, state)
	assert.Equal(t, []string{ErrIdleTimeout.Error()}, rec.errors)
}

func TestReader_FullExchangeOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range []string{"Hel", "lo ", "wörld"} {
			flushWrite(w, "event:message\ndata:{\"delta\":\""+word+"\"}\n\n")
		}
		flushWrite(w, "event:done\ndata:{\"message_id\":9,\"content\":\"Hello wörld\"}\n\n")
	}))
	defer srv.Close()

	r := New(context.Background(), httpOpener(srv.URL, srv.Client()))
	var rec recorder

	state := Dispatch(r, rec.callbacks())

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, "Hello wörld", strings.Join(rec.messages, ""))
	assert.Equal(t, int64(9), rec.doneID)
	assert.Equal(t, "Hello wörld", rec.content)
}
