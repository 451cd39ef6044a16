package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/opencontainers/go-digest"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

const (
	imagePollInterval    = 1 * time.Second
	imagePollMaxWait     = 8 * time.Minute
	imageRetryMaxTries   = 12
	imageRetryMaxElapsed = 30 * time.Minute
	imageRetryBaseDelay  = 2 * time.Second
	imageRetryMaxDelay   = 60 * time.Second
)

// transientImagePhrases are the substrings that make an image-generation
// error retryable per spec.md §4.11.2 step 5.
var transientImagePhrases = []string{
	"(e003)", "high demand", "please try again later",
	"temporarily unavailable", "provider_unavailable",
	"request failed", "request timed out", "polling failed",
}

func isTransientImageError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range transientImagePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

type uploadSlot struct {
	PutURL     string            `json:"putUrl"`
	Descriptor map[string]string `json:"descriptor"`
}

type uploadPrepResponse struct {
	Slots []uploadSlot `json:"slots"`
}

type uploadedImageRef struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
	MIME string `json:"mime"`
}

type imageJobRequest struct {
	Prompt      string             `json:"prompt"`
	InputImages []uploadedImageRef `json:"input_images,omitempty"`
	Options     imageJobOptions    `json:"options"`
}

type imageJobOptions struct {
	Count       int    `json:"count"`
	AspectRatio string `json:"aspect_ratio"`
}

type imageJobSubmitResponse struct {
	JobID string `json:"jobId"`
}

type imageJobPollResponse struct {
	Status     string   `json:"status"` // "pending" | "done" | "error"
	OutputURLs []string `json:"outputUrls"`
	Error      string   `json:"error"`
}

// GenerateImage implements spec.md §4.11.2's six-step sequence: upload
// reference images, submit with an idempotency key that changes every
// retry, poll to completion, and download the outputs through the Asset
// Store. The retry envelope is driven by cenkalti/backoff/v5's generic
// Retry, configured to match the spec's exponential-backoff schedule.
func (c *Client) GenerateImage(ctx context.Context, req studiotypes.ImageGenerationRequest) (studiotypes.ImageGenerationResult, error) {
	uploaded, err := c.uploadInputImages(ctx, req.InputImages)
	if err != nil {
		return studiotypes.ImageGenerationResult{}, err
	}

	attempt := req.Attempt
	if attempt < 1 {
		attempt = 1
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = imageRetryBaseDelay
	boff.Multiplier = 2
	boff.MaxInterval = imageRetryMaxDelay
	boff.RandomizationFactor = 0

	op := func() (studiotypes.ImageGenerationResult, error) {
		key := imageIdempotencyKey(req, attempt)
		attempt++

		jobID, err := c.submitImageJob(ctx, req, uploaded, key)
		if err == nil {
			var result studiotypes.ImageGenerationResult
			result, err = c.pollImageJob(ctx, jobID)
			if err == nil {
				return result, nil
			}
		}
		if isTransientImageError(err.Error()) {
			return studiotypes.ImageGenerationResult{}, err
		}
		return studiotypes.ImageGenerationResult{}, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(boff),
		backoff.WithMaxTries(imageRetryMaxTries),
		backoff.WithMaxElapsedTime(imageRetryMaxElapsed),
	)
}

// imageIdempotencyKey builds "studio-image-<run>-<node>-r<attempt>-<hash>",
// where <hash> is an FNV-1a hash of prompt, aspect ratio, count and the
// input image hashes. The second segment is the request's node ID; no
// model identifier is part of the key. The hash keeps the key stable
// across retries of the same logical request while the attempt number
// varies, so a retried submit is guaranteed fresh.
func imageIdempotencyKey(req studiotypes.ImageGenerationRequest, attempt int) string {
	var inputSig strings.Builder
	for _, ref := range req.InputImages {
		inputSig.WriteString(ref.Hash.String())
		inputSig.WriteByte('|')
	}
	h := fnv.New64a()
	h.Write([]byte(req.Prompt + "|" + req.AspectRatio + "|" + strconv.Itoa(req.Count) + "|" + inputSig.String()))
	return fmt.Sprintf("studio-image-%s-%s-r%d-%x", req.RunID, req.NodeID, attempt, h.Sum64())
}

func (c *Client) uploadInputImages(ctx context.Context, refs []studiotypes.AssetRef) ([]uploadedImageRef, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	resp, raw, err := c.doJSON(ctx, http.MethodPost, c.cfg.Endpoints.ImageUploadPrepURL, map[string]interface{}{"count": len(refs)})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &studioerr.AdapterHttpError{Status: resp.StatusCode, BodyPrefix: bodyPrefix(raw)}
	}
	var prep uploadPrepResponse
	if err := json.Unmarshal(raw, &prep); err != nil {
		return nil, &studioerr.AdapterTransient{Message: "malformed upload-prep response: " + err.Error()}
	}
	if len(prep.Slots) != len(refs) {
		return nil, fmt.Errorf("upload-prep returned %d slots for %d images", len(prep.Slots), len(refs))
	}

	out := make([]uploadedImageRef, len(refs))
	for i, ref := range refs {
		bytesRef, err := c.cfg.Assets.Read(ref)
		if err != nil {
			return nil, err
		}
		if err := c.putAssetBytes(ctx, prep.Slots[i].PutURL, bytesRef, ref.MIME); err != nil {
			return nil, err
		}

		gotHash := digest.FromBytes(bytesRef)
		if gotHash != ref.Hash || int64(len(bytesRef)) != ref.Size {
			return nil, fmt.Errorf("uploaded image %s: hash/size mismatch against local asset", ref.Hash)
		}
		out[i] = uploadedImageRef{Hash: gotHash.String(), Size: ref.Size, MIME: ref.MIME}
	}
	return out, nil
}

func (c *Client) putAssetBytes(ctx context.Context, putURL string, data []byte, mimeType string) error {
	if err := c.cfg.Network.AssertNetworkUrl(putURL); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build asset upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &studioerr.AdapterTransient{Message: err.Error()}
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return &studioerr.AdapterHttpError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) submitImageJob(ctx context.Context, req studiotypes.ImageGenerationRequest, uploaded []uploadedImageRef, idempotencyKey string) (string, error) {
	body := imageJobRequest{
		Prompt:      req.Prompt,
		InputImages: uploaded,
		Options:     imageJobOptions{Count: req.Count, AspectRatio: req.AspectRatio},
	}
	rawURL := c.cfg.Endpoints.ImageJobURL
	if err := c.cfg.Network.AssertNetworkUrl(rawURL); err != nil {
		return "", err
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal image job request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("build image job request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", &studioerr.AdapterTransient{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &studioerr.AdapterTransient{Message: err.Error()}
	}
	if !isSuccess(resp.StatusCode) {
		return "", &studioerr.AdapterHttpError{Status: resp.StatusCode, BodyPrefix: bodyPrefix(raw)}
	}

	var submitResp imageJobSubmitResponse
	if err := json.Unmarshal(raw, &submitResp); err != nil {
		return "", &studioerr.AdapterTransient{Message: "malformed job submit response: " + err.Error()}
	}
	return submitResp.JobID, nil
}

func (c *Client) pollImageJob(ctx context.Context, jobID string) (studiotypes.ImageGenerationResult, error) {
	pollURL := strings.TrimRight(c.cfg.Endpoints.ImageJobURL, "/") + "/" + jobID
	deadline := time.Now().Add(imagePollMaxWait)

	for {
		resp, raw, err := c.doJSON(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return studiotypes.ImageGenerationResult{}, err
		}
		if !isSuccess(resp.StatusCode) {
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterHttpError{Status: resp.StatusCode, BodyPrefix: bodyPrefix(raw)}
		}

		var poll imageJobPollResponse
		if err := json.Unmarshal(raw, &poll); err != nil {
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterTransient{Message: "malformed poll response: " + err.Error()}
		}

		switch poll.Status {
		case "done":
			return c.downloadOutputs(ctx, poll.OutputURLs)
		case "error":
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterTransient{Message: poll.Error}
		}

		if time.Now().After(deadline) {
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterTransient{Message: "polling failed: exceeded per-poll wait budget"}
		}
		select {
		case <-ctx.Done():
			return studiotypes.ImageGenerationResult{}, ctx.Err()
		case <-time.After(imagePollInterval):
		}
	}
}

func (c *Client) downloadOutputs(ctx context.Context, urls []string) (studiotypes.ImageGenerationResult, error) {
	assets := make([]studiotypes.AssetRef, 0, len(urls))
	for _, u := range urls {
		if err := c.cfg.Network.AssertNetworkUrl(u); err != nil {
			return studiotypes.ImageGenerationResult{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return studiotypes.ImageGenerationResult{}, fmt.Errorf("build output download request: %w", err)
		}
		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterTransient{Message: err.Error()}
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterTransient{Message: err.Error()}
		}
		if !isSuccess(resp.StatusCode) {
			return studiotypes.ImageGenerationResult{}, &studioerr.AdapterHttpError{Status: resp.StatusCode, BodyPrefix: bodyPrefix(raw)}
		}
		mimeType := resp.Header.Get("Content-Type")
		ref, err := c.cfg.Assets.Store(raw, mimeType)
		if err != nil {
			return studiotypes.ImageGenerationResult{}, err
		}
		assets = append(assets, ref)
	}
	return studiotypes.ImageGenerationResult{Assets: assets, Model: c.cfg.ManagedModel}, nil
}
