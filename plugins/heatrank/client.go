package heatrank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "heatrank/pkg/logx"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 1 << 20

type client struct {
	http *http.Client
	log  logx.Logger
}

func newClient(hc *http.Client, log logx.Logger) *client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &client{http: hc, log: log}
}

// fetch tries each endpoint in order and returns the first non-empty ranking.
// When every endpoint fails the causes are joined.
func (c *client) fetch(ctx context.Context, endpoints []string, id, key string, timeout time.Duration) ([]RankEntry, error) {
	var errs []error
	for i, ep := range endpoints {
		entries, err := c.fetchOne(ctx, ep, id, key, timeout)
		if err == nil && len(entries) == 0 {
			err = ErrEmptyRank
		}
		if err == nil {
			if i > 0 {
				c.log.Info("fallback endpoint used", logx.String("endpoint", redact(ep)))
			}
			return entries, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", redact(ep), err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(endpoints) {
			c.log.Warn("endpoint failed, trying fallback", logx.String("endpoint", redact(ep)), logx.Err(err))
		}
	}
	return nil, errors.Join(errs...)
}

func (c *client) fetchOne(ctx context.Context, endpoint, id, key string, timeout time.Duration) ([]RankEntry, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("id", id)
	q.Set("key", key)
	u.RawQuery = q.Encode()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the full URL, key included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, uerr.Err
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	entries, err := parseRank(body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("rank fetched", logx.String("endpoint", redact(endpoint)), logx.Int("entries", len(entries)), logx.Duration("took", time.Since(start)))
	return entries, nil
}

// redact drops the query string so credentials never reach logs or errors.
func redact(endpoint string) string {
	if i := strings.IndexAny(endpoint, "?#"); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
