package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StatusError is a non-2xx answer from the admin API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// adminClient calls the admin API. Attempts back off 1s, 2s, 4s... and
// every attempt of one call carries the same request id so the server
// never fans an alert out twice.
type adminClient struct {
	server    string
	apiKey    string
	http      *http.Client
	retries   int
	baseDelay time.Duration
	progress  io.Writer
}

func (c *adminClient) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 64 * c.baseDelay
	return b
}

func (c *adminClient) do(ctx context.Context, method, path, requestID string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	tries := max(c.retries, 1)
	attempt := 0

	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		fmt.Fprintf(c.progress, "Attempt %d/%d...\n", attempt, tries)
		data, err := c.once(ctx, method, path, requestID, payload)
		var se *StatusError
		if errors.As(err, &se) && !retryable(se.Code) {
			return nil, backoff.Permanent(err)
		}
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			fmt.Fprintf(c.progress, "Attempt %d failed: %v\n", attempt, err)
		}
		return data, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *adminClient) once(ctx context.Context, method, path, requestID string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.server, "/")+path, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("Idempotency-Key", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
