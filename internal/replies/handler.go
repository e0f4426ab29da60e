package replies

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidPayload = "invalid JSON payload"
	maxPayloadBytes   = 1 << 20
)

// Field aliases accepted from inbound-parse providers, in priority order.
var (
	toFields      = []string{"to", "recipients", "envelopeTo"}
	fromFields    = []string{"from", "sender"}
	subjectFields = []string{"subject"}
	textFields    = []string{"text", "body-plain", "textBody"}
	htmlFields    = []string{"html", "body-html", "htmlBody"}
	idFields      = []string{"messageId", "message-id", "Message-Id", "id"}
	varContainers = []string{"user-variables", "custom_variables"}
)

// WebhookResponse is the body returned to the inbound-parse provider.
type WebhookResponse struct {
	OK      bool       `json:"ok"`
	Matched bool       `json:"matched"`
	LeadID  *uuid.UUID `json:"leadId,omitempty"`
	Note    string     `json:"note,omitempty"`
}

// Handler serves the inbound email webhook.
type Handler struct {
	svc *Service
	log *logger.Logger
}

// NewHandler creates a new replies handler.
func NewHandler(svc *Service, log *logger.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// HandleInbound reconciles one parsed inbound email.
// POST /webhooks/inbound-email
func (h *Handler) HandleInbound(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidPayload, nil)
		return
	}
	in, err := parseInbound(raw)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidPayload, nil)
		return
	}

	match, err := h.svc.Reconcile(c.Request.Context(), in)
	if httpkit.HandleError(c, err) {
		return
	}
	if match.LeadID == uuid.Nil {
		httpkit.OK(c, WebhookResponse{OK: true, Note: "no lead id in recipients"})
		return
	}
	resp := WebhookResponse{OK: true, Matched: match.Matched, LeadID: &match.LeadID}
	switch {
	case match.Duplicate:
		resp.Note = "duplicate"
	case !match.Matched:
		resp.Note = "lead not found"
	}
	httpkit.OK(c, resp)
}

func parseInbound(raw []byte) (Inbound, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Inbound{}, err
	}
	if payload == nil {
		return Inbound{}, fmt.Errorf("payload is not an object")
	}

	in := Inbound{
		Source:            SourceWebhook,
		ProviderMessageID: strings.Trim(firstString(payload, idFields), "<> "),
		To:                addressList(payload, toFields),
		From:              firstString(payload, fromFields),
		Subject:           firstString(payload, subjectFields),
		Text:              firstString(payload, textFields),
		HTML:              firstString(payload, htmlFields),
	}
	for _, container := range varContainers {
		vars, ok := payload[container].(map[string]any)
		if !ok {
			continue
		}
		if s, ok := vars["lead_id"].(string); ok {
			if id, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
				in.LeadID = &id
				break
			}
		}
	}
	return in, nil
}

func firstString(payload map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// addressList accepts a comma-separated string or an array of strings.
func addressList(payload map[string]any, keys []string) []string {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case string:
			if out := SplitAddresses(v); len(out) > 0 {
				return out
			}
		case []any:
			var out []string
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, SplitAddresses(s)...)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
