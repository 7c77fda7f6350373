package transport

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"stayassist/internal/types"
)

var (
	ErrNetworkTimeout = errors.New("backend request timed out")
	ErrNetworkFailure = errors.New("backend unreachable")
	ErrUnavailable    = errors.New("backend marked unavailable")
)

// BackendError is a non-2xx reply from the backend. It is never retried.
type BackendError struct {
	Status int
	Body   []byte
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

const (
	ApologyUnavailable = "I'm having trouble reaching the booking assistant right now. Please try again in a moment."
	ApologyError       = "I'm sorry, I encountered an error processing your request. Please try again later."
)

type Options struct {
	BaseURL           string
	SendPath          string
	StatusPath        string
	Timeout           time.Duration
	Retries           int
	RetryDelay        time.Duration
	Grace             time.Duration
	ProbeInterval     time.Duration
	FingerprintWindow time.Duration
	HTTPClient        *http.Client
	Now               func() time.Time
}

func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:           baseURL,
		SendPath:          "/api/send_message",
		StatusPath:        "/api/check_rasa",
		Timeout:           10 * time.Second,
		Retries:           2,
		RetryDelay:        time.Second,
		Grace:             5 * time.Second,
		ProbeInterval:     30 * time.Second,
		FingerprintWindow: time.Second,
	}
}

// Availability is the last known reachability of the backend.
type Availability struct {
	IsAvailable   bool
	LastCheckedAt time.Time
}

// Client sends user messages to the dialogue backend. It collapses duplicate
// in-flight sends, retries network failures, and fails fast for a short grace
// window after an outage has been detected.
type Client struct {
	opts     Options
	http     *http.Client
	now      func() time.Time
	inflight singleflight.Group

	mu sync.Mutex
	// live maps normalized text to its in-flight call so a send issued just
	// after a window boundary still joins it.
	live        map[string]liveCall
	avail       Availability
	probeCancel context.CancelFunc
	probeDone   chan struct{}
	closed      bool
	closeOnce   sync.Once
}

type liveCall struct {
	key  string
	slot int64
}

func New(opts Options) *Client {
	d := DefaultOptions(opts.BaseURL)
	if opts.SendPath == "" {
		opts.SendPath = d.SendPath
	}
	if opts.StatusPath == "" {
		opts.StatusPath = d.StatusPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = d.ProbeInterval
	}
	if opts.FingerprintWindow <= 0 {
		opts.FingerprintWindow = d.FingerprintWindow
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:  opts,
		http:  hc,
		now:   now,
		avail: Availability{IsAvailable: true},
		live:  map[string]liveCall{},
	}
}

// Fingerprint identifies "the same" request: identical text issued within the
// same time window.
func Fingerprint(message string, at time.Time, window time.Duration) string {
	return fingerprint(normalizeText(message), windowSlot(at, window))
}

func normalizeText(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

func windowSlot(at time.Time, window time.Duration) int64 {
	if window <= 0 {
		window = time.Second
	}
	return at.UnixNano() / int64(window)
}

func fingerprint(text string, slot int64) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d", text, slot)))
	return hex.EncodeToString(sum[:])
}

// issueKey returns the single-flight key for text issued at the current time.
// A call for the same text still in flight from the previous window is
// joined instead of starting a new one.
func (c *Client) issueKey(text string) string {
	slot := windowSlot(c.now(), c.opts.FingerprintWindow)
	c.mu.Lock()
	defer c.mu.Unlock()
	if lc, ok := c.live[text]; ok && (lc.slot == slot || lc.slot == slot-1) {
		return lc.key
	}
	key := fingerprint(text, slot)
	c.live[text] = liveCall{key: key, slot: slot}
	return key
}

func (c *Client) settle(text, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[text].key == key {
		delete(c.live, text)
	}
}

// Send delivers message and convCtx to the backend. It never returns an error:
// failures are turned into a synthesized reply with an apology message.
func (c *Client) Send(ctx context.Context, message string, convCtx types.Context) types.BackendResponse {
	if c.failFast() {
		log.Warn().Str("text", message).Msg("backend unavailable, skipping request")
		return types.ErrorReply(ErrUnavailable.Error(), ApologyUnavailable)
	}

	text := normalizeText(message)
	key := c.issueKey(text)
	// The shared call must outlive any single caller giving up.
	callCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (any, error) {
		defer c.settle(text, key)
		return c.sendWithRetry(callCtx, message, convCtx), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			log.Debug().Str("fingerprint", key).Msg("joined in-flight request")
		}
		return res.Val.(types.BackendResponse)
	case <-ctx.Done():
		return types.ErrorReply(ctx.Err().Error(), ApologyError)
	}
}

func (c *Client) sendWithRetry(ctx context.Context, message string, convCtx types.Context) types.BackendResponse {
	body, err := json.Marshal(types.ChatRequest{Message: message, Context: convCtx})
	if err != nil {
		log.Error().Err(err).Msg("encode chat request")
		return types.ErrorReply(err.Error(), ApologyError)
	}

	attempts := c.opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.post(ctx, body)
		if err == nil {
			c.setAvailable(true, "request")
			return resp
		}

		var be *BackendError
		if errors.As(err, &be) {
			c.setAvailable(true, "request")
			log.Warn().Int("status", be.Status).Msg("backend error")
			return backendErrorReply(be)
		}
		if !isRetryable(err) {
			log.Error().Err(err).Msg("backend request failed")
			return types.ErrorReply(err.Error(), ApologyError)
		}

		lastErr = err
		c.setAvailable(false, "request")
		log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("backend request failed")
		if attempt < attempts {
			if err := sleep(ctx, c.opts.RetryDelay); err != nil {
				break
			}
		}
	}
	return types.ErrorReply(lastErr.Error(), ApologyUnavailable)
}

func (c *Client) post(ctx context.Context, body []byte) (types.BackendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.SendPath, bytes.NewReader(body))
	if err != nil {
		return types.BackendResponse{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.BackendResponse{}, classify(ctx, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.BackendResponse{}, classify(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.BackendResponse{}, &BackendError{Status: resp.StatusCode, Body: b}
	}
	out, err := types.DecodeResponse(b)
	if err != nil {
		// Handed on as a zero-message batch.
		log.Warn().Err(err).Msg("unrecognized backend payload")
	}
	return out, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(ErrNetworkTimeout, err.Error())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(ErrNetworkTimeout, err.Error())
	}
	return errors.Wrap(ErrNetworkFailure, err.Error())
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrNetworkFailure)
}

func backendErrorReply(be *BackendError) types.BackendResponse {
	if r, err := types.DecodeResponse(be.Body); err == nil && len(r.Messages) > 0 {
		if r.Error == "" {
			r.Error = be.Error()
		}
		return r
	}
	return types.ErrorReply(be.Error(), ApologyError)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Availability returns a snapshot of the current availability state.
func (c *Client) Availability() Availability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avail
}

func (c *Client) failFast() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.avail.IsAvailable && c.now().Sub(c.avail.LastCheckedAt) < c.opts.Grace
}

func (c *Client) setAvailable(ok bool, source string) {
	c.mu.Lock()
	prev := c.avail.IsAvailable
	c.avail = Availability{IsAvailable: ok, LastCheckedAt: c.now()}
	c.mu.Unlock()
	if prev != ok {
		log.Info().Bool("available", ok).Str("source", source).Msg("backend availability changed")
	}
}
