package studiotypes

import (
	"context"

	"github.com/rs/zerolog"
)

// CLIRequest describes one subprocess invocation handed to the sandbox.
type CLIRequest struct {
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
	TimeoutMS  int
	MaxOutputBytes int
}

// CLIResult is the observed outcome of a sandboxed subprocess.
type CLIResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Adapter is the narrow contract the runtime depends on for remote and
// local-CLI generative work. Concrete implementation lives in pkg/adapter.
type Adapter interface {
	EstimateRunCredits(ctx context.Context, project *Project) (ok bool, reason string, err error)
	GenerateText(ctx context.Context, req TextGenerationRequest) (TextGenerationResult, error)
	GenerateImage(ctx context.Context, req ImageGenerationRequest) (ImageGenerationResult, error)
	Transcribe(ctx context.Context, req TranscriptionRequest) (TranscriptionResult, error)
}

// TextGenerationRequest is the adapter-facing shape for §4.11.1.
type TextGenerationRequest struct {
	RunID    string
	NodeID   string
	System   string
	User     string
	Provider string // "managed" or "local"
	LocalModel string // normalized provider/model token, local provider only
}

// TextGenerationResult carries the generated text and the model used.
type TextGenerationResult struct {
	Text  string
	Model string
}

// ImageGenerationRequest is the adapter-facing shape for §4.11.2.
type ImageGenerationRequest struct {
	RunID        string
	NodeID       string
	Attempt      int
	Prompt       string
	AspectRatio  string
	Count        int
	InputImages  []AssetRef
}

// ImageGenerationResult carries the produced assets and model identifier.
type ImageGenerationResult struct {
	Assets []AssetRef
	Model  string
}

// TranscriptionRequest is the adapter-facing shape for §4.11.3.
type TranscriptionRequest struct {
	RunID  string
	NodeID string
	Audio  AssetRef
}

// TranscriptionResult carries the produced transcript text.
type TranscriptionResult struct {
	Text string
}

// SecretStore is the narrow contract over the optional OS keychain.
type SecretStore interface {
	IsAvailable() bool
	GetSecret(referenceID string) (string, error)
}

// AssetReadWriter is the narrow contract over the content-addressed blob
// store, as seen by node implementations.
type AssetReadWriter interface {
	Store(bytes []byte, mimeType string) (AssetRef, error)
	Read(ref AssetRef) ([]byte, error)
}

// ServiceBundle is everything a node's Execute function may call into.
// Every field is capability-checked by its concrete implementation before
// it takes effect.
type ServiceBundle struct {
	Adapter Adapter
	Secrets SecretStore
	Assets  AssetReadWriter

	ResolvePath     func(relative string) (string, error)
	ReadVaultBinary func(path string) ([]byte, error)
	ReadLocalFile   func(path string) ([]byte, error)
	WriteTempFile   func(bytes []byte, ext string) (string, error)
	DeleteLocalFile func(path string) error

	RunCLI func(ctx context.Context, req CLIRequest) (CLIResult, error)

	AssertFilesystemPath func(path string) error
	AssertNetworkURL     func(url string) error
}

// ExecContext is what a NodeDefinition.Execute function receives.
type ExecContext struct {
	Context     context.Context
	RunID       string
	ProjectPath string
	Node        NodeInstance
	Inputs      map[string]interface{}
	Cancelled   func() bool
	Services    ServiceBundle
	Logger      zerolog.Logger
}
