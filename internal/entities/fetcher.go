// Package entities resolves profile entity ids against catalyst content servers.
package entities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/pkg/catalyst"
)

const activeEntitiesPath = "/content/entities/active"

var (
	// ErrAllServersFailed is returned when every attempt failed
	ErrAllServersFailed = errors.New("all content servers failed")
	// ErrNoServers is returned when the fetcher has no server to ask
	ErrNoServers = errors.New("no content servers configured")
)

// Fetcher fetches active entities from a rotating set of content servers
type Fetcher struct {
	servers    []string
	httpClient *http.Client
	logger     zerolog.Logger
	cursor     atomic.Uint64
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher over servers. Trailing slashes are trimmed.
func NewFetcher(servers []string, timeout time.Duration, logger zerolog.Logger) *Fetcher {
	trimmed := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimRight(strings.TrimSpace(s), "/")
		if s != "" {
			trimmed = append(trimmed, s)
		}
	}

	return &Fetcher{
		servers: trimmed,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "entity_fetcher").Logger(),
		sleep:  sleepContext,
	}
}

var _ contracts.EntityFetcher = (*Fetcher)(nil)

type activeEntitiesRequest struct {
	IDs []string `json:"ids"`
}

// GetEntitiesByIds returns the active entities for ids. Ids unknown to the
// server are absent from the result. Each attempt moves to the next server,
// unless opts.ServerOverride pins the call to one server.
func (f *Fetcher) GetEntitiesByIds(ctx context.Context, ids []string, opts contracts.FetchOptions) ([]catalyst.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if opts.ServerOverride == "" && len(f.servers) == 0 {
		return nil, ErrNoServers
	}

	attempts := opts.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && opts.WaitTime > 0 {
			if err := f.sleep(ctx, opts.WaitTime); err != nil {
				return nil, err
			}
		}

		server := opts.ServerOverride
		if server == "" {
			server = f.nextServer()
		}
		server = strings.TrimRight(server, "/")

		entities, err := f.fetch(ctx, server, ids)
		if err == nil {
			f.logger.Debug().
				Str("server", server).
				Int("requested", len(ids)).
				Int("found", len(entities)).
				Msg("Fetched entities")
			return entities, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn().
			Err(err).
			Str("server", server).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Msg("Failed to fetch entities")
	}

	return nil, fmt.Errorf("%w: %v", ErrAllServersFailed, lastErr)
}

func (f *Fetcher) nextServer() string {
	n := f.cursor.Add(1) - 1
	return f.servers[n%uint64(len(f.servers))]
}

func (f *Fetcher) fetch(ctx context.Context, server string, ids []string) ([]catalyst.Entity, error) {
	body, err := json.Marshal(activeEntitiesRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+activeEntitiesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("content server status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var entities []catalyst.Entity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return entities, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
