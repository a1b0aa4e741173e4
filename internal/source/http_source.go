// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Package source provides RecordSource implementations for the
// external access-control service. The service itself is a black
// box; only its read contract (get by id, list active) is consumed.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tfedor/rolegate/internal/authz"
	"github.com/tfedor/rolegate/internal/models"
)

// HTTPSourceConfig configures the HTTP record source client.
type HTTPSourceConfig struct {
	// BaseURL is the root of the access-control service,
	// e.g. "https://records.internal:8443".
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// BreakerFailureThreshold is the number of consecutive failures
	// before the circuit opens.
	BreakerFailureThreshold uint32

	// BreakerTimeout is how long the circuit stays open before
	// probing again.
	BreakerTimeout time.Duration
}

// DefaultHTTPSourceConfig returns production defaults.
func DefaultHTTPSourceConfig() *HTTPSourceConfig {
	return &HTTPSourceConfig{
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
	}
}

// HTTPSource consumes the external access-control service over HTTP.
// All calls honor the caller's context deadline; a tripped breaker
// fails fast so a dead source cannot pile up in-flight requests.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
}

// NewHTTPSource creates an HTTP record source. The client may be nil,
// in which case a default client without its own timeout is used
// (the resolver bounds every call through context).
func NewHTTPSource(config *HTTPSourceConfig, client *http.Client) (*HTTPSource, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.New("source base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid source base URL: %w", err)
	}
	if client == nil {
		client = &http.Client{}
	}

	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breakerTimeout := config.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "record-source",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A not-found answer is a healthy source, not a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, authz.ErrRecordNotFound)
		},
	})

	return &HTTPSource{
		baseURL: config.BaseURL,
		token:   config.Token,
		client:  client,
		breaker: breaker,
	}, nil
}

// GetByUserID fetches a single record.
// Returns authz.ErrRecordNotFound on 404.
func (s *HTTPSource) GetByUserID(ctx context.Context, userID string) (*models.AccessRecord, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.fetchRecord(ctx, userID)
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return result.(*models.AccessRecord), nil
}

// ListActive fetches the full active record set.
func (s *HTTPSource) ListActive(ctx context.Context) ([]models.AccessRecord, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.fetchActive(ctx)
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return result.([]models.AccessRecord), nil
}

func (s *HTTPSource) fetchRecord(ctx context.Context, userID string) (*models.AccessRecord, error) {
	endpoint := s.baseURL + "/records/" + url.PathEscape(userID)
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var record models.AccessRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &record, nil
}

func (s *HTTPSource) fetchActive(ctx context.Context) ([]models.AccessRecord, error) {
	endpoint := s.baseURL + "/records?status=" + models.StatusActive
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Records []models.AccessRecord `json:"records"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}
	return payload.Records, nil
}

// get performs one request and maps the status code. A 404 is the
// only non-200 that is not a source failure.
func (s *HTTPSource) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record source request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, authz.ErrRecordNotFound
	default:
		return nil, fmt.Errorf("record source returned status %d", resp.StatusCode)
	}
}

// mapError keeps not-found distinct and folds breaker states into the
// source failure taxonomy.
func (s *HTTPSource) mapError(err error) error {
	if errors.Is(err, authz.ErrRecordNotFound) {
		return authz.ErrRecordNotFound
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open", authz.ErrSourceUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", authz.ErrResolutionTimeout, err)
	}
	return fmt.Errorf("%w: %w", authz.ErrSourceUnavailable, err)
}

// BreakerState exposes the breaker state for health reporting.
func (s *HTTPSource) BreakerState() string {
	return s.breaker.State().String()
}
