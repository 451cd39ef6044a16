package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

type allowAllNetwork struct{}

func (allowAllNetwork) AssertNetworkUrl(string) error { return nil }

type fakeCLI struct {
	result studiotypes.CLIResult
	err    error
}

func (f fakeCLI) Run(ctx context.Context, req studiotypes.CLIRequest) (studiotypes.CLIResult, error) {
	return f.result, f.err
}

type memAssets struct {
	blobs map[string][]byte
}

func newMemAssets() *memAssets { return &memAssets{blobs: make(map[string][]byte)} }

func (m *memAssets) Store(bytes []byte, mimeType string) (studiotypes.AssetRef, error) {
	h := digest.FromBytes(bytes)
	m.blobs[h.String()] = bytes
	return studiotypes.AssetRef{Hash: h, MIME: mimeType, Size: int64(len(bytes))}, nil
}

func (m *memAssets) Read(ref studiotypes.AssetRef) ([]byte, error) {
	return m.blobs[ref.Hash.String()], nil
}

func TestGenerateText_ManagedSuccessAccumulatesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studio:run1:node1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"type":"text_delta","text":"hello "}` + "\n" + `{"type":"text_delta","text":"world"}` + "\n" + `{"type":"turn_end"}` + "\n"))
	}))
	defer srv.Close()

	c := New(Config{
		Endpoints:    Endpoints{TurnBaseURL: srv.URL},
		Network:      allowAllNetwork{},
		ManagedModel: "studio-managed-v1",
		Logger:       zerolog.Nop(),
	})

	result, err := c.GenerateText(context.Background(), studiotypes.TextGenerationRequest{
		RunID: "run1", NodeID: "node1", User: "hi", Provider: "managed",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, "studio-managed-v1", result.Model)
}

func TestGenerateText_ManagedTurnInFlightSurfacesLockUntil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "turn_in_flight", "lock_until": "2026-07-31T00:00:00Z"},
		})
	}))
	defer srv.Close()

	c := New(Config{Endpoints: Endpoints{TurnBaseURL: srv.URL}, Network: allowAllNetwork{}, Logger: zerolog.Nop()})
	_, err := c.GenerateText(context.Background(), studiotypes.TextGenerationRequest{RunID: "r", NodeID: "n", User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2026-07-31T00:00:00Z")
}

func TestGenerateText_ManagedNon2xxSurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{Endpoints: Endpoints{TurnBaseURL: srv.URL}, Network: allowAllNetwork{}, Logger: zerolog.Nop()})
	_, err := c.GenerateText(context.Background(), studiotypes.TextGenerationRequest{RunID: "r", NodeID: "n", User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestGenerateText_LocalNormalizesModelAndParsesNDJSON(t *testing.T) {
	stdout := `{"type":"header"}` + "\n" +
		`{"type":"message_end","text":"first"}` + "\n" +
		`{"type":"agent_end","text":"final answer"}` + "\n"
	cli := fakeCLI{result: studiotypes.CLIResult{ExitCode: 0, Stdout: stdout}}

	c := New(Config{CLI: cli, Logger: zerolog.Nop()})
	result, err := c.GenerateText(context.Background(), studiotypes.TextGenerationRequest{
		Provider: "local", LocalModel: "anthropic@@claude", User: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "final answer", result.Text)
	assert.Equal(t, "anthropic/claude", result.Model)
}

func TestGenerateText_LocalInvalidModelSelectorRejected(t *testing.T) {
	c := New(Config{CLI: fakeCLI{}, Logger: zerolog.Nop()})
	_, err := c.GenerateText(context.Background(), studiotypes.TextGenerationRequest{
		Provider: "local", LocalModel: "not-a-valid-token", User: "hi",
	})
	assert.Error(t, err)
}

func TestGenerateText_LocalNonZeroExitSurfacesParsedError(t *testing.T) {
	stdout := `{"type":"agent_end","stopReason":"error","message":"model unavailable"}` + "\n"
	cli := fakeCLI{result: studiotypes.CLIResult{ExitCode: 1, Stdout: stdout}}

	c := New(Config{CLI: cli, Logger: zerolog.Nop()})
	_, err := c.GenerateText(context.Background(), studiotypes.TextGenerationRequest{
		Provider: "local", LocalModel: "p/m", User: "hi",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestEstimateRunCredits_AllLocalTextSkipsCreditsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(creditsBalanceResponse{RemainingCredits: 0})
	}))
	defer srv.Close()

	c := New(Config{Endpoints: Endpoints{CreditsURL: srv.URL}, Network: allowAllNetwork{}, Logger: zerolog.Nop()})
	project := &studiotypes.Project{
		Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{
			{ID: "a", Kind: kindTextGeneration, Config: map[string]interface{}{"provider": "local"}},
		}},
	}

	ok, reason, err := c.EstimateRunCredits(context.Background(), project)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.False(t, called)
}

func TestEstimateRunCredits_ImageNodeChecksBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(creditsBalanceResponse{RemainingCredits: 5})
	}))
	defer srv.Close()

	c := New(Config{Endpoints: Endpoints{CreditsURL: srv.URL}, Network: allowAllNetwork{}, Logger: zerolog.Nop()})
	project := &studiotypes.Project{
		Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{{ID: "a", Kind: kindImageGeneration}}},
	}

	ok, _, err := c.EstimateRunCredits(context.Background(), project)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEstimateRunCredits_ZeroBalanceReturnsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(creditsBalanceResponse{RemainingCredits: 0})
	}))
	defer srv.Close()

	c := New(Config{Endpoints: Endpoints{CreditsURL: srv.URL}, Network: allowAllNetwork{}, Logger: zerolog.Nop()})
	project := &studiotypes.Project{
		Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{{ID: "a", Kind: kindTranscription}}},
	}

	ok, _, err := c.EstimateRunCredits(context.Background(), project)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateImage_UploadSubmitPollDownload(t *testing.T) {
	assets := newMemAssets()
	inputRef, err := assets.Store([]byte("reference-image-bytes"), "image/png")
	require.NoError(t, err)

	var uploadedBytes []byte
	var jobsSeen int
	mux := http.NewServeMux()

	// srvURL is filled in once the test server starts; the handlers
	// below close over the pointer so they can embed the server's own
	// address in JSON responses (the upload PUT and output download
	// targets are this same server).
	srvURL := new(string)

	mux.HandleFunc("/upload-prep", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(uploadPrepResponse{Slots: []uploadSlot{{PutURL: *srvURL + "/upload-put"}}})
	})
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		jobsSeen++
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(imageJobSubmitResponse{JobID: "job-1"})
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(imageJobPollResponse{Status: "done", OutputURLs: []string{*srvURL + "/output-1"}})
	})
	mux.HandleFunc("/upload-put", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = io.ReadFull(r.Body, buf)
		uploadedBytes = buf
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/output-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("generated-image-bytes"))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	*srvURL = srv.URL

	c := New(Config{
		Endpoints: Endpoints{
			ImageUploadPrepURL: srv.URL + "/upload-prep",
			ImageJobURL:        srv.URL + "/jobs",
		},
		Network: allowAllNetwork{},
		Assets:  assets,
		Logger:  zerolog.Nop(),
	})

	result, err := c.GenerateImage(context.Background(), studiotypes.ImageGenerationRequest{
		RunID: "run1", NodeID: "node1", Prompt: "a cat", Count: 1,
		InputImages: []studiotypes.AssetRef{inputRef},
	})
	require.NoError(t, err)
	require.Len(t, result.Assets, 1)
	assert.Equal(t, []byte("reference-image-bytes"), uploadedBytes)
	assert.Equal(t, 1, jobsSeen)
}

func TestIsTransientImageError_MatchesKnownPhrases(t *testing.T) {
	assert.True(t, isTransientImageError("Error (e003): please retry"))
	assert.True(t, isTransientImageError("Service is TEMPORARILY UNAVAILABLE"))
	assert.False(t, isTransientImageError("invalid prompt: nsfw content detected"))
}

func TestImageIdempotencyKey_VariesByAttemptStableOtherwise(t *testing.T) {
	req := studiotypes.ImageGenerationRequest{RunID: "r", NodeID: "n", Prompt: "p", AspectRatio: "1:1", Count: 1}
	k1 := imageIdempotencyKey(req, 1)
	k2 := imageIdempotencyKey(req, 2)
	k1Again := imageIdempotencyKey(req, 1)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, k1Again)
}
