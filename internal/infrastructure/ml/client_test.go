package ml

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"OpportunityPipeline/internal/config"
	"OpportunityPipeline/internal/domain"
)

func newServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != generatePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateWithConfidence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		text string
		conf float64
	}{
		{name: "reported", body: `{"response":"hi","confidence":0.42}`, text: "hi", conf: 0.42},
		{name: "missing", body: `{"response":"hi"}`, text: "hi", conf: 1},
		{name: "clamped", body: `{"response":"hi","confidence":7}`, text: "hi", conf: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, tc.body, http.StatusOK)
			client := NewClient(config.BackendConfig{Name: "local", Endpoint: srv.URL + "/", Model: "llama"})

			text, conf, err := client.GenerateWithConfidence(context.Background(), "p", 0.2)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if text != tc.text || conf != tc.conf {
				t.Fatalf("got (%q, %v), want (%q, %v)", text, conf, tc.text, tc.conf)
			}
		})
	}
}

func TestGenerateEmptyAndUnavailable(t *testing.T) {
	t.Parallel()

	empty := NewClient(config.BackendConfig{Name: "local", Endpoint: newServer(t, `{"response":" "}`, http.StatusOK).URL, Model: "m"})
	if _, err := empty.Generate(context.Background(), "p", 0); !errors.Is(err, domain.ErrGenerationEmpty) {
		t.Fatalf("expected empty, got %v", err)
	}

	down := NewClient(config.BackendConfig{Name: "local", Endpoint: newServer(t, "busy", http.StatusServiceUnavailable).URL, Model: "m"})
	if _, err := down.Generate(context.Background(), "p", 0); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	unset := NewClient(config.BackendConfig{Name: "local"})
	if _, err := unset.Generate(context.Background(), "p", 0); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
