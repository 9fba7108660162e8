package brain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

func TestClient_BootstrapRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/brain/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		var req CriticRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Mode != ModeBrowser {
			t.Errorf("mode = %q, want %q", req.Mode, ModeBrowser)
		}
		if req.Prompt != "buy socks" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		writeJSON(w, http.StatusOK, CriticReply{
			OK:        true,
			Mode:      req.Mode,
			SessionID: "sess-1",
			Decision:  &models.Decision{Action: models.ActionProceed, Confidence: 0.9},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	reply, err := client.Bootstrap(context.Background(), CriticRequest{Prompt: "buy socks", Screenshot: "aGVsbG8="})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if reply.SessionID != "sess-1" {
		t.Errorf("sessionId = %q, want sess-1", reply.SessionID)
	}
	if reply.Decision == nil || reply.Decision.Action != models.ActionProceed {
		t.Errorf("decision = %+v, want proceed", reply.Decision)
	}
}

func TestClient_ErrorCodeSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/brain/critic", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, CriticReply{Error: models.CodePromptRequired})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Critic(context.Background(), CriticRequest{Screenshot: "aGVsbG8="})
	if err == nil {
		t.Fatal("Critic() error = nil, want prompt_required")
	}
	if !models.HasCode(err, models.CodePromptRequired) {
		t.Errorf("error = %v, want code %q", err, models.CodePromptRequired)
	}
}

func TestClient_AssistantRejectsMissingBlock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/brain/assistant", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AssistantReply{OK: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Assistant(context.Background(), AssistantRequest{Prompt: "p", Screenshot: "aGVsbG8="})
	if err == nil {
		t.Fatal("Assistant() error = nil, want brain_error")
	}
	if !models.HasCode(err, models.CodeBrainError) {
		t.Errorf("error = %v, want code %q", err, models.CodeBrainError)
	}
}

func TestClient_WaitReady(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.WaitReady(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Errorf("health polls = %d, want at least 3", got)
	}
}

func TestClient_WaitReadyTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.WaitReady(context.Background(), 150*time.Millisecond); err == nil {
		t.Fatal("WaitReady() error = nil, want timeout")
	}
}
