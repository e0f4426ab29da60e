package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"leadflow_backend/platform/logger"
)

type testVoiceConfig struct {
	baseURL string
	apiKey  string
}

func (c testVoiceConfig) GetVapiAPIKey() string        { return c.apiKey }
func (c testVoiceConfig) GetVapiBaseURL() string       { return c.baseURL }
func (c testVoiceConfig) GetVapiAssistantID() string   { return "asst" }
func (c testVoiceConfig) GetVapiPhoneNumberID() string { return "pn" }
func (c testVoiceConfig) GetVapiModelProvider() string { return "openai" }
func (c testVoiceConfig) GetVapiModelName() string     { return "gpt-4o-mini" }
func (c testVoiceConfig) GetVapiWebhookSecret() string { return "" }
func (c testVoiceConfig) IsVoiceEnabled() bool         { return c.apiKey != "" }

func TestStartCallParsesNestedID(t *testing.T) {
	var got CallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call/phone" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"call":{"id":"call_123","status":"queued"}}`))
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig{baseURL: srv.URL + "/", apiKey: "key"}, logger.NewNop())
	resp, err := client.StartCall(context.Background(), CallRequest{
		AssistantID: "asst",
		Customer:    Customer{Number: "+31201234567"},
		Metadata:    map[string]string{"lead_id": "L1"},
	})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if resp.CallID != "call_123" || resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Customer.Number != "+31201234567" || got.Metadata["lead_id"] != "L1" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestStartCallToleratesMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig{baseURL: srv.URL, apiKey: "key"}, logger.NewNop())
	resp, err := client.StartCall(context.Background(), CallRequest{})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if resp.CallID != "" || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestStartCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad number", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig{baseURL: srv.URL, apiKey: "key"}, logger.NewNop())
	resp, err := client.StartCall(context.Background(), CallRequest{})
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestStartCallProviderErrorBodyIsRuneSafe(t *testing.T) {
	body := strings.Repeat("x", maxErrorBody-1) + "ñandú"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig{baseURL: srv.URL, apiKey: "key"}, logger.NewNop())
	_, err := client.StartCall(context.Background(), CallRequest{})
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if !utf8.ValidString(err.Error()) || !strings.HasSuffix(err.Error(), "xñ") {
		t.Fatalf("error body not cut on a rune boundary: %q", err.Error()[len(err.Error())-8:])
	}
}

func TestStartCallNotConfigured(t *testing.T) {
	client := NewClient(testVoiceConfig{baseURL: "http://unused"}, logger.NewNop())
	if _, err := client.StartCall(context.Background(), CallRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
