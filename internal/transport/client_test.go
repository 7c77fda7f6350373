package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayassist/internal/types"
)

func testOptions(url string) Options {
	o := DefaultOptions(url)
	o.Timeout = 50 * time.Millisecond
	o.RetryDelay = time.Millisecond
	o.Grace = 5 * time.Second
	return o
}

func TestSend_Success(t *testing.T) {
	var got types.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send_message", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"text":"For how many guests?"}]`))
	}))
	defer srv.Close()

	c := New(testOptions(srv.URL))
	resp := c.Send(context.Background(), "book a room", types.Context{"guests": nil})
	require.Empty(t, resp.Error)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "For how many guests?", resp.Messages[0].Text)
	assert.Equal(t, "book a room", got.Message)
	assert.Contains(t, got.Context, "guests")
	assert.True(t, c.Availability().IsAvailable)
	assert.False(t, c.Availability().LastCheckedAt.IsZero())
}

func TestSend_ThreeTimeoutsSynthesizesError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := New(testOptions(srv.URL))
	resp := c.Send(context.Background(), "hello", nil)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, ApologyUnavailable, resp.Messages[0].Text)
	assert.Contains(t, resp.Error, ErrNetworkTimeout.Error())
	assert.False(t, c.Availability().IsAvailable)
}

func TestSend_FailsFastWithinGrace(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	opts := testOptions(srv.URL)
	opts.Retries = 0
	opts.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := New(opts)

	_ = c.Send(context.Background(), "hello", nil)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	resp := c.Send(context.Background(), "hello again", nil)
	log.Logger = prev
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte(`"message":`)))
	assert.Contains(t, logs.String(), `"text":"hello again"`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no network call inside the grace window")
	assert.Equal(t, ApologyUnavailable, resp.Messages[0].Text)
	assert.Equal(t, ErrUnavailable.Error(), resp.Error)

	mu.Lock()
	now = now.Add(6 * time.Second)
	mu.Unlock()
	_ = c.Send(context.Background(), "hello once more", nil)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSend_BackendErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"rasa down","messages":[{"text":"I'm sorry, please try again later."}]}`))
	}))
	defer srv.Close()

	c := New(testOptions(srv.URL))
	resp := c.Send(context.Background(), "hi", nil)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "I'm sorry, please try again later.", resp.Messages[0].Text)
	assert.Equal(t, "rasa down", resp.Error)
}

func TestSend_BackendErrorWithoutMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`bad gateway`))
	}))
	defer srv.Close()

	c := New(testOptions(srv.URL))
	resp := c.Send(context.Background(), "hi", nil)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, ApologyError, resp.Messages[0].Text)
	assert.Contains(t, resp.Error, "502")
}

func TestSend_MalformedPayloadIsZeroMessageBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer srv.Close()

	resp := New(testOptions(srv.URL)).Send(context.Background(), "hi", nil)
	assert.True(t, resp.Malformed)
	assert.Empty(t, resp.Messages)
}

func TestSend_DuplicateInFlightSharesOneCall(t *testing.T) {
	var calls int32
	hit := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hit <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"messages":[{"text":"ok"}],"context":{"n":1}}`))
	}))
	defer srv.Close()

	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	opts := testOptions(srv.URL)
	opts.Timeout = 2 * time.Second
	opts.Now = func() time.Time { return fixed }
	c := New(opts)

	results := make([]types.BackendResponse, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.Send(context.Background(), "book a room", nil)
	}()
	<-hit
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = c.Send(context.Background(), "Book a room ", nil)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, "ok", results[1].Messages[0].Text)
}

func TestSend_CallerCancelDoesNotAbortSharedCall(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		_, _ = w.Write([]byte(`[{"text":"late"}]`))
	}))
	defer srv.Close()

	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	opts := testOptions(srv.URL)
	opts.Timeout = 2 * time.Second
	opts.Now = func() time.Time { return fixed }
	c := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := c.Send(ctx, "hi", nil)
	assert.Equal(t, ApologyError, resp.Messages[0].Text)

	done := make(chan types.BackendResponse)
	go func() { done <- c.Send(context.Background(), "hi", nil) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	joined := <-done
	require.Len(t, joined.Messages, 1)
	assert.Equal(t, "late", joined.Messages[0].Text)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFingerprint(t *testing.T) {
	at := time.Date(2026, 10, 17, 12, 0, 0, 100, time.UTC)
	assert.Equal(t, Fingerprint("Hello", at, time.Second), Fingerprint(" hello ", at.Add(500*time.Millisecond), time.Second))
	assert.NotEqual(t, Fingerprint("hello", at, time.Second), Fingerprint("hello", at.Add(time.Second), time.Second))
	assert.NotEqual(t, Fingerprint("hello", at, time.Second), Fingerprint("hi", at, time.Second))
}

func TestSend_DuplicateAcrossWindowBoundarySharesOneCall(t *testing.T) {
	var calls int32
	hit := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hit <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"messages":[{"text":"ok"}]}`))
	}))
	defer srv.Close()

	var tick int32
	times := []time.Time{
		time.Date(2026, 10, 17, 12, 0, 0, 990_000_000, time.UTC),
		time.Date(2026, 10, 17, 12, 0, 1, 10_000_000, time.UTC),
	}
	opts := testOptions(srv.URL)
	opts.Timeout = 2 * time.Second
	opts.Now = func() time.Time {
		i := int(atomic.AddInt32(&tick, 1)) - 1
		if i >= len(times) {
			i = len(times) - 1
		}
		return times[i]
	}
	c := New(opts)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Send(context.Background(), "book a room", nil)
	}()
	<-hit
	go func() {
		defer wg.Done()
		c.Send(context.Background(), "book a room", nil)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, c.live, "settled calls are forgotten")
}

func TestSend_SettledCallIsNotJoined(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"messages":[{"text":"ok"}]}`))
	}))
	defer srv.Close()

	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	opts := testOptions(srv.URL)
	opts.Now = func() time.Time { return fixed }
	c := New(opts)
	c.Send(context.Background(), "book a room", nil)
	c.Send(context.Background(), "book a room", nil)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
