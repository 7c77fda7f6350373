package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"stayassist/internal/types"
)

// Probe checks the backend status endpoint once and records the result.
func (c *Client) Probe(ctx context.Context) bool {
	ok, err := c.checkStatus(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Debug().Err(err).Msg("status probe failed")
	}
	c.setAvailable(ok, "probe")
	return ok
}

func (c *Client) checkStatus(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+c.opts.StatusPath, nil)
	if err != nil {
		return false, errors.Wrap(err, "build status request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, classify(ctx, err)
	}
	defer resp.Body.Close()
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return false, errors.Wrap(err, "decode status")
	}
	return st.Status == types.StatusAvailable, nil
}

// StartProbe checks backend status immediately and then on every probe
// interval until Close is called or ctx ends. Calling it again while a probe
// runs, or after Close, is a no-op.
func (c *Client) StartProbe(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.probeCancel != nil {
		c.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.probeCancel = cancel
	c.probeDone = done
	c.mu.Unlock()

	go c.runProbe(pctx, done)
}

func (c *Client) runProbe(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.ProbeInterval)
	defer ticker.Stop()

	c.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Probe(ctx)
		}
	}
}

// Close stops the status probe. Only the first call has any effect.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel, done := c.probeCancel, c.probeDone
		c.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
		log.Debug().Msg("status probe stopped")
	})
}
