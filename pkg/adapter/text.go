package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

type turnRequestBody struct {
	System string `json:"system,omitempty"`
	User   string `json:"user"`
}

type turnErrorBody struct {
	Error struct {
		Code      string `json:"code"`
		LockUntil string `json:"lock_until"`
	} `json:"error"`
}

type turnStreamEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// GenerateText implements spec.md §4.11.1's two provider modes.
func (c *Client) GenerateText(ctx context.Context, req studiotypes.TextGenerationRequest) (studiotypes.TextGenerationResult, error) {
	if req.Provider == "local" {
		return c.generateTextLocal(ctx, req)
	}
	return c.generateTextManaged(ctx, req)
}

func (c *Client) generateTextManaged(ctx context.Context, req studiotypes.TextGenerationRequest) (studiotypes.TextGenerationResult, error) {
	c.managedTurnMu.Lock()
	defer c.managedTurnMu.Unlock()

	chatID := fmt.Sprintf("studio:%s:%s", req.RunID, req.NodeID)
	rawURL := strings.TrimRight(c.cfg.Endpoints.TurnBaseURL, "/") + "/" + chatID

	resp, raw, err := c.doJSON(ctx, http.MethodPost, rawURL, turnRequestBody{System: req.System, User: req.User})
	if err != nil {
		return studiotypes.TextGenerationResult{}, err
	}

	if resp.StatusCode == http.StatusConflict {
		var body turnErrorBody
		_ = json.Unmarshal(raw, &body)
		if body.Error.Code == "turn_in_flight" {
			return studiotypes.TextGenerationResult{}, &studioerr.AdapterConflict{Reason: "turn_in_flight", LockUntil: body.Error.LockUntil}
		}
	}
	if !isSuccess(resp.StatusCode) {
		return studiotypes.TextGenerationResult{}, &studioerr.AdapterHttpError{Status: resp.StatusCode, BodyPrefix: bodyPrefix(raw)}
	}

	text, err := accumulateTurnStream(raw)
	if err != nil {
		return studiotypes.TextGenerationResult{}, err
	}
	return studiotypes.TextGenerationResult{Text: strings.TrimSpace(text), Model: c.cfg.ManagedModel}, nil
}

// accumulateTurnStream consumes an NDJSON event stream until a terminal
// "turn_end" event, concatenating "text_delta" event text in order.
func accumulateTurnStream(raw []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var sb strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event turnStreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		switch event.Type {
		case "text_delta":
			sb.WriteString(event.Text)
		case "turn_end":
			return sb.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &studioerr.AdapterTransient{Message: err.Error()}
	}
	return sb.String(), nil
}

// normalizeLocalModel accepts either "provider@@model" or "provider/model"
// and returns the canonical "provider/model" form.
func normalizeLocalModel(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "@@"); idx >= 0 {
		provider, model := raw[:idx], raw[idx+2:]
		if provider == "" || model == "" {
			return "", fmt.Errorf("invalid local model selector %q", raw)
		}
		return provider + "/" + model, nil
	}
	if strings.Count(raw, "/") == 1 {
		parts := strings.SplitN(raw, "/", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("invalid local model selector %q", raw)
		}
		return raw, nil
	}
	return "", fmt.Errorf("invalid local model selector %q", raw)
}

func (c *Client) generateTextLocal(ctx context.Context, req studiotypes.TextGenerationRequest) (studiotypes.TextGenerationResult, error) {
	model, err := normalizeLocalModel(req.LocalModel)
	if err != nil {
		return studiotypes.TextGenerationResult{}, err
	}

	c.localTurnMu.Lock()
	defer c.localTurnMu.Unlock()

	args := []string{"--mode", "json", "--print", "--no-session", "--model", model}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	args = append(args, req.User)

	result, err := c.cfg.CLI.Run(ctx, studiotypes.CLIRequest{
		Command:        "pi",
		Args:           args,
		TimeoutMS:      5 * 60 * 1000,
		MaxOutputBytes: 8 * 1024 * 1024,
	})
	if err != nil {
		return studiotypes.TextGenerationResult{}, err
	}

	text, parsedErrMsg := parsePiOutput(result.Stdout)
	if result.ExitCode != 0 {
		if parsedErrMsg != "" {
			return studiotypes.TextGenerationResult{}, &studioerr.SubprocessNonZero{Command: "pi", ExitCode: result.ExitCode, FirstLine: parsedErrMsg}
		}
		return studiotypes.TextGenerationResult{}, &studioerr.SubprocessNonZero{Command: "pi", ExitCode: result.ExitCode, FirstLine: firstNonEmptyLine(result.Stderr, result.Stdout)}
	}
	if parsedErrMsg != "" {
		return studiotypes.TextGenerationResult{}, &studioerr.AdapterTransient{Message: parsedErrMsg}
	}
	return studiotypes.TextGenerationResult{Text: text, Model: model}, nil
}

type piEvent struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stopReason"`
	Message    string `json:"message"`
}

// parsePiOutput scans the pi binary's NDJSON stdout, keeping the last
// assistant text seen on a message_end/agent_end event and any error
// message carried by a stopReason=="error" event.
func parsePiOutput(stdout string) (text string, errMsg string) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event piEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if (event.Type == "message_end" || event.Type == "agent_end") && event.Text != "" {
			text = event.Text
		}
		if event.StopReason == "error" {
			errMsg = event.Message
		}
	}
	return text, errMsg
}

func firstNonEmptyLine(streams ...string) string {
	for _, s := range streams {
		scanner := bufio.NewScanner(strings.NewReader(s))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				return line
			}
		}
	}
	return ""
}
