// Package voice is the HTTP client for the outbound voice-call provider (Vapi).
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/sanitize"
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("voice provider not configured")

const maxErrorBody = 2000

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

// Message is one chat message of the model override.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelOverride replaces the assistant's model and system prompt for one call.
type ModelOverride struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// AssistantOverrides is the per-call assistant customization.
type AssistantOverrides struct {
	Model              *ModelOverride    `json:"model,omitempty"`
	VariableValues     map[string]string `json:"variableValues,omitempty"`
	MaxDurationSeconds int               `json:"maxDurationSeconds,omitempty"`
}

// Customer is the callee.
type Customer struct {
	Number string `json:"number"`
}

// CallRequest is the body of POST /call/phone.
type CallRequest struct {
	AssistantID        string             `json:"assistantId,omitempty"`
	PhoneNumberID      string             `json:"phoneNumberId,omitempty"`
	Customer           Customer           `json:"customer"`
	AssistantOverrides AssistantOverrides `json:"assistantOverrides"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// CallResponse is what the provider answered. CallID is best-effort.
type CallResponse struct {
	StatusCode int
	CallID     string
	Status     string
}

type callBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Call   *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"call"`
}

func NewClient(cfg config.VoiceConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetVapiBaseURL(), "/"),
		apiKey:  cfg.GetVapiAPIKey(),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// Configured reports whether calls can be placed.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// StartCall places an outbound phone call. A non-2xx answer is returned as an
// error together with the status code.
func (c *Client) StartCall(ctx context.Context, payload CallRequest) (CallResponse, error) {
	if !c.Configured() {
		return CallResponse{}, ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CallResponse{}, fmt.Errorf("marshal call payload: %w", err)
	}

	url := fmt.Sprintf("%s/call/phone", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CallResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return CallResponse{}, fmt.Errorf("voice request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	out := CallResponse{StatusCode: resp.StatusCode}

	if resp.StatusCode >= http.StatusBadRequest {
		text := sanitize.Truncate(strings.TrimSpace(string(data)), maxErrorBody)
		return out, fmt.Errorf("voice provider returned %d: %s", resp.StatusCode, text)
	}

	var parsed callBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		c.log.Warn("voice response not parseable", "status", resp.StatusCode, "error", err)
		return out, nil
	}
	out.CallID = parsed.ID
	out.Status = parsed.Status
	if out.CallID == "" && parsed.Call != nil {
		out.CallID = parsed.Call.ID
		out.Status = parsed.Call.Status
	}

	c.log.Info("voice call started", "status", resp.StatusCode, "externalCallId", out.CallID, "number", payload.Customer.Number)
	return out, nil
}
