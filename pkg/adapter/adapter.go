// Package adapter implements the Adapter Layer of spec.md §4.11: remote
// text/image/transcription calls plus the local `pi` CLI text path, all
// gated through host-approved URLs and a process-wide FIFO per transport.
// Grounded on pkg/client/client.go's client-wrapper-with-methods shape in
// the teacher repo, generalized from a single gRPC connection to HTTPS
// endpoints plus a subprocess path.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// CLIRunner is the narrow subprocess contract the local text-generation
// path depends on. *pkg/sandbox.Runner satisfies it.
type CLIRunner interface {
	Run(ctx context.Context, req studiotypes.CLIRequest) (studiotypes.CLIResult, error)
}

// NetworkAsserter is the narrow permission contract every remote call
// preflights through before a URL is issued. *pkg/permissions.Manager
// satisfies it.
type NetworkAsserter interface {
	AssertNetworkUrl(u string) error
}

// Endpoints are the host-approved remote URLs the adapter reaches, per
// spec.md §6's "HTTPS-only, host-allowlisted" remote endpoint list.
type Endpoints struct {
	TurnBaseURL        string // POST {TurnBaseURL}/{chatId} starts/continues a managed text turn
	CreditsURL         string // GET current credit balance
	ImageUploadPrepURL string // POST prepares input-image upload slots
	ImageJobURL        string // POST submits a job; GET {ImageJobURL}/{jobId} polls it
}

// Config wires a Client to its host environment.
type Config struct {
	Endpoints    Endpoints
	HTTPClient   *http.Client
	Network      NetworkAsserter
	CLI          CLIRunner
	Assets       studiotypes.AssetReadWriter
	VaultDir     string // root .runtime-tmp-audio is created under
	ManagedModel string // fixed model identifier returned on managed text success
	Logger       zerolog.Logger

	// TranscribeFile calls the host transcription service on a scoped
	// local audio file path and returns the transcript text.
	TranscribeFile func(ctx context.Context, path string) (string, error)
}

// Client implements studiotypes.Adapter. A host may build a new Client per
// run (cmd/studio does, bound to that run's permission policy); the turn
// locks are package-level and shared by every Client in the process, so
// the turn-serialization invariants in spec.md §4.11.1 are process-wide,
// not per-run or per-Client.
type Client struct {
	cfg Config

	managedTurnMu *sync.Mutex // at most one managed text turn in flight process-wide
	localTurnMu   *sync.Mutex // at most one local pi invocation in flight process-wide
}

// processManagedTurnMu and processLocalTurnMu back the turn locks of every
// Client.
var processManagedTurnMu, processLocalTurnMu sync.Mutex

// New returns a Client. cfg.HTTPClient defaults to a 60s-timeout client
// when nil.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	cfg.Logger = cfg.Logger.With().Str("component", "adapter").Logger()
	return &Client{cfg: cfg, managedTurnMu: &processManagedTurnMu, localTurnMu: &processLocalTurnMu}
}

// doJSON preflights rawURL through the permission manager, issues method
// with an optional JSON body, and returns the raw response body alongside
// the response so callers can branch on status code before deciding how
// to interpret it.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, body interface{}) (*http.Response, []byte, error) {
	if err := c.cfg.Network.AssertNetworkUrl(rawURL); err != nil {
		return nil, nil, err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal adapter request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build adapter request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, &studioerr.AdapterTransient{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, &studioerr.AdapterTransient{Message: err.Error()}
	}
	return resp, raw, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// bodyPrefix truncates raw to the first 240 bytes per spec.md §4.11.1's
// non-2xx error surface rule.
func bodyPrefix(raw []byte) string {
	if len(raw) > 240 {
		return string(raw[:240])
	}
	return string(raw)
}
