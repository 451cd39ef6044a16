package adapter

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// Node kinds that the credit preflight classifies as remote-credit
// consumers, per spec.md §4.11.4.
const (
	kindTextGeneration  = "studio.text_generation"
	kindImageGeneration = "studio.image_generation"
	kindTranscription   = "studio.transcription"
)

type creditsBalanceResponse struct {
	RemainingCredits int64 `json:"remainingCredits"`
}

// EstimateRunCredits implements spec.md §4.11.4: skip the credits call
// entirely when nothing in the scoped graph needs remote credits (every
// text node runs local, no image/transcription nodes at all).
func (c *Client) EstimateRunCredits(ctx context.Context, project *studiotypes.Project) (bool, string, error) {
	if !requiresRemoteCredits(project) {
		return true, "", nil
	}

	resp, raw, err := c.doJSON(ctx, http.MethodGet, c.cfg.Endpoints.CreditsURL, nil)
	if err != nil {
		return false, err.Error(), nil
	}
	if !isSuccess(resp.StatusCode) {
		return false, bodyPrefix(raw), nil
	}

	var balance creditsBalanceResponse
	if err := json.Unmarshal(raw, &balance); err != nil {
		return false, "malformed credits response: " + err.Error(), nil
	}
	return balance.RemainingCredits > 0, "", nil
}

func requiresRemoteCredits(project *studiotypes.Project) bool {
	for _, node := range project.Graph.Nodes {
		if node.Disabled {
			continue
		}
		switch node.Kind {
		case kindImageGeneration, kindTranscription:
			return true
		case kindTextGeneration:
			if nodeTextProvider(node) != "local" {
				return true
			}
		}
	}
	return false
}

func nodeTextProvider(node studiotypes.NodeInstance) string {
	if node.Config == nil {
		return "managed"
	}
	if provider, ok := node.Config["provider"].(string); ok && provider != "" {
		return provider
	}
	return "managed"
}
