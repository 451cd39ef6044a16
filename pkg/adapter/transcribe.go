package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

var extByMIMEForTemp = map[string]string{
	"audio/mpeg": "mp3",
	"audio/wav":  "wav",
	"audio/ogg":  "ogg",
	"audio/webm": "webm",
	"video/mp4":  "mp4",
}

// Transcribe implements spec.md §4.11.3: write the audio asset to a
// scoped temp file in a reserved vault directory, hand the path to the
// host transcription service, and remove the temp file unconditionally.
func (c *Client) Transcribe(ctx context.Context, req studiotypes.TranscriptionRequest) (studiotypes.TranscriptionResult, error) {
	audio, err := c.cfg.Assets.Read(req.Audio)
	if err != nil {
		return studiotypes.TranscriptionResult{}, err
	}

	tmpPath, err := c.writeScopedTempFile(req.RunID, audio, req.Audio)
	if err != nil {
		return studiotypes.TranscriptionResult{}, err
	}
	defer os.Remove(tmpPath)

	return c.transcribeFile(ctx, tmpPath)
}

func (c *Client) writeScopedTempFile(runID string, audio []byte, ref studiotypes.AssetRef) (string, error) {
	ext := extFromMIME(ref.MIME)
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(ref.Path), ".")
	}
	if ext == "" {
		ext = "bin"
	}

	dir := filepath.Join(c.cfg.VaultDir, "SystemSculpt", "Studio", ".runtime-tmp-audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scoped temp audio dir: %w", err)
	}

	hash12 := ref.Hash.Encoded()
	if len(hash12) > 12 {
		hash12 = hash12[:12]
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.%s", runID, hash12, ext))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write scoped temp audio file: %w", err)
	}
	return path, nil
}

func extFromMIME(mimeType string) string {
	return extByMIMEForTemp[mimeType]
}

// transcribeFile is the host-specific transcription call. It is
// implemented as a hook-style field rather than an interface because the
// host transcription service is a single function call, not a family of
// methods; tests substitute cfg.TranscribeFile directly.
func (c *Client) transcribeFile(ctx context.Context, path string) (studiotypes.TranscriptionResult, error) {
	if c.cfg.TranscribeFile == nil {
		return studiotypes.TranscriptionResult{}, fmt.Errorf("transcription host hook not configured")
	}
	text, err := c.cfg.TranscribeFile(ctx, path)
	if err != nil {
		return studiotypes.TranscriptionResult{}, err
	}
	return studiotypes.TranscriptionResult{Text: text}, nil
}
