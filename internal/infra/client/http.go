package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("client")

// StatusError is a non-2xx answer from an upstream API.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API returned status %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s API returned status %d: %s", e.Service, e.Code, e.Body)
}

// endpoint bundles what every JSON call needs.
type endpoint struct {
	service    string
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// doJSON sends in (when non-nil) and decodes the answer into out (when non-nil)
// through the circuit breaker and retry loop. 4xx answers are not retried.
// Only use it for idempotent calls.
func (e *endpoint) doJSON(ctx context.Context, method, path string, in, out any) error {
	return e.do(ctx, e.cfg, method, path, in, out)
}

// sendOnce is doJSON without retries, for writes the upstream may have
// committed even though the answer was lost.
func (e *endpoint) sendOnce(ctx context.Context, method, path string, in, out any) error {
	cfg := e.cfg
	cfg.MaxRetries = 0
	return e.do(ctx, cfg, method, path, in, out)
}

func (e *endpoint) do(ctx context.Context, cfg resilience.Config, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", e.service, err)
		}
	}

	_, err := resilience.Execute(ctx, e.cb, cfg, func() (struct{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
		if err != nil {
			return struct{}{}, resilience.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &StatusError{Service: e.service, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return struct{}{}, resilience.Permanent(statusErr)
			}
			return struct{}{}, statusErr
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return struct{}{}, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("decode %s response: %w", e.service, err)
		}
		return struct{}{}, nil
	})
	return err
}

// classify maps a transport error onto the domain error taxonomy.
// resource and id name what a 404 refers to; an empty resource keeps
// 404 as an external service failure.
func classify(service, resource, id string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	var se *StatusError
	if resource != "" && errors.As(err, &se) && se.Code == http.StatusNotFound {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}
