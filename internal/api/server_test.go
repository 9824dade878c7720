package api

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snarg/juicer/internal/cache"
	"github.com/snarg/juicer/internal/config"
	"github.com/snarg/juicer/internal/credentials"
	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/history"
	"github.com/snarg/juicer/internal/localmodel"
	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/transcribe"
)

func TestQueueRoutes(t *testing.T) {
	a := newTestAPI(t, nil)
	first, _ := a.queue.Enqueue(transcribe.NewSubmission("a.wav", "audio/wav", []byte("a")))
	a.queue.Enqueue(transcribe.NewSubmission("b.wav", "audio/wav", []byte("b")))

	t.Run("list", func(t *testing.T) {
		resp := a.doJSON(t, "GET", "/api/v1/queue", "")
		body := decode[struct {
			Items []queue.Item `json:"items"`
			Stats queue.Stats  `json:"stats"`
		}](t, resp)
		if len(body.Items) != 2 || body.Stats.Queued != 2 {
			t.Errorf("items = %d, queued = %d, want 2/2", len(body.Items), body.Stats.Queued)
		}
	})

	t.Run("get", func(t *testing.T) {
		resp := a.doJSON(t, "GET", "/api/v1/queue/"+first.ID, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got := decode[queue.Item](t, resp); got.FileName != "a.wav" {
			t.Errorf("FileName = %q, want a.wav", got.FileName)
		}
	})

	t.Run("get_unknown", func(t *testing.T) {
		if resp := a.doJSON(t, "GET", "/api/v1/queue/nope", ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("retry_queued_conflicts", func(t *testing.T) {
		if resp := a.doJSON(t, "POST", "/api/v1/queue/"+first.ID+"/retry", ""); resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		if resp := a.doJSON(t, "DELETE", "/api/v1/queue/"+first.ID, ""); resp.StatusCode != http.StatusNoContent {
			t.Errorf("status = %d, want 204", resp.StatusCode)
		}
		if _, err := a.queue.Get(first.ID); err == nil {
			t.Error("cancelled item still in queue")
		}
	})

	t.Run("clear", func(t *testing.T) {
		resp := a.doJSON(t, "DELETE", "/api/v1/queue", "")
		if got := decode[map[string]int](t, resp); got["removed"] != 1 {
			t.Errorf("removed = %d, want 1", got["removed"])
		}
	})
}

func TestProviderRoutes(t *testing.T) {
	a := newTestAPI(t, nil)

	t.Run("list", func(t *testing.T) {
		body := decode[struct {
			Providers []ProviderInfo        `json:"providers"`
			Selected  transcribe.ProviderID `json:"selected"`
		}](t, a.doJSON(t, "GET", "/api/v1/providers", ""))
		if len(body.Providers) != 3 {
			t.Fatalf("providers = %d, want 3", len(body.Providers))
		}
		if body.Selected != transcribe.Groq {
			t.Errorf("selected = %q, want groq", body.Selected)
		}
		if body.Providers[0].Credential.Masked != "sk-1****7890" {
			t.Errorf("masked key = %q", body.Providers[0].Credential.Masked)
		}
	})

	t.Run("select", func(t *testing.T) {
		resp := a.doJSON(t, "PUT", "/api/v1/providers/selected", `{"provider":"openai"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if a.creds.Selected() != transcribe.OpenAI {
			t.Errorf("Selected = %q, want openai", a.creds.Selected())
		}
	})

	t.Run("select_unknown", func(t *testing.T) {
		resp := a.doJSON(t, "PUT", "/api/v1/providers/selected", `{"provider":"deepgram"}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("validate_invalidates_on_auth", func(t *testing.T) {
		resp := a.doJSON(t, "POST", "/api/v1/providers/openai/validate", "")
		info := decode[ProviderInfo](t, resp)
		if info.Credential.Valid {
			t.Error("openai key still valid after auth failure")
		}
		if !info.Credential.Checked {
			t.Error("Checked = false after validation")
		}
	})

	t.Run("set_credential", func(t *testing.T) {
		resp := a.doJSON(t, "PUT", "/api/v1/providers/huggingface/credential", `{"key":" hf_0123456789 "}`)
		info := decode[ProviderInfo](t, resp)
		if !info.Credential.Valid {
			t.Errorf("credential invalid: %+v", info.Credential)
		}
		c, _ := a.creds.Get(transcribe.HuggingFace)
		if c.Key != "hf_0123456789" {
			t.Errorf("Key = %q, want trimmed key", c.Key)
		}
	})

	t.Run("unknown_provider_path", func(t *testing.T) {
		if resp := a.doJSON(t, "POST", "/api/v1/providers/acme/validate", ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("health_check", func(t *testing.T) {
		resp := a.doJSON(t, "POST", "/api/v1/providers/health/check", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestCacheAndHistoryRoutes(t *testing.T) {
	ctx := context.Background()
	a := newTestAPI(t, nil)
	res := transcribe.Result{ID: "job-1", FileName: "a.wav", Text: "hello", Status: transcribe.StatusCompleted, Date: time.Now()}
	if err := a.cache.Put(ctx, cache.Fingerprint([]byte("a")), &cache.Entry{Result: res, FileSize: 10}); err != nil {
		t.Fatal(err)
	}
	if err := a.history.Record(ctx, &history.Record{Result: res}); err != nil {
		t.Fatal(err)
	}

	st := decode[cache.Stats](t, a.doJSON(t, "GET", "/api/v1/cache", ""))
	if st.Items != 1 || st.Bytes != 10 {
		t.Errorf("cache stats = %+v, want 1 item of 10 bytes", st)
	}
	if got := decode[map[string]int](t, a.doJSON(t, "POST", "/api/v1/cache/prune", "")); got["removed"] != 0 {
		t.Errorf("pruned = %d, want 0", got["removed"])
	}
	if got := decode[map[string]int](t, a.doJSON(t, "DELETE", "/api/v1/cache", "")); got["removed"] != 1 {
		t.Errorf("cleared = %d, want 1", got["removed"])
	}

	list := decode[struct {
		Records []history.Record `json:"records"`
	}](t, a.doJSON(t, "GET", "/api/v1/history?limit=10", ""))
	if len(list.Records) != 1 || list.Records[0].Text != "hello" {
		t.Fatalf("history = %+v", list.Records)
	}
	if resp := a.doJSON(t, "GET", "/api/v1/history/job-1", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, want 200", resp.StatusCode)
	}
	stats := decode[history.Stats](t, a.doJSON(t, "GET", "/api/v1/history/stats", ""))
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
	if resp := a.doJSON(t, "DELETE", "/api/v1/history/job-1", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	if resp := a.doJSON(t, "GET", "/api/v1/history/job-1", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestModelAndOfflineRoutes(t *testing.T) {
	a := newTestAPI(t, nil)

	resp := a.doJSON(t, "POST", "/api/v1/model/download", `{"variant":"tiny.en"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("download status = %d, want 202", resp.StatusCode)
	}
	select {
	case v := <-a.model.initialized:
		if v != "tiny.en" {
			t.Errorf("initialized %q, want tiny.en", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize not called")
	}

	if resp := a.doJSON(t, "POST", "/api/v1/model/download", `{"variant":"huge"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown variant status = %d, want 400", resp.StatusCode)
	}

	a.model.mu.Lock()
	a.model.status = localmodel.Status{State: localmodel.StateDownloading, Variant: "tiny.en"}
	a.model.mu.Unlock()
	if resp := a.doJSON(t, "POST", "/api/v1/model/download", `{"variant":"base"}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("busy status = %d, want 409", resp.StatusCode)
	}

	if resp := a.doJSON(t, "DELETE", "/api/v1/model/tiny.en", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	got := decode[offlineState](t, a.doJSON(t, "PUT", "/api/v1/settings/offline", `{"enabled":true}`))
	if !got.Enabled || !a.offline.Offline() {
		t.Error("offline mode not enabled")
	}
	if got.ModelReady {
		t.Error("ModelReady = true while downloading")
	}
}

func TestEventStreams(t *testing.T) {
	t.Run("sse", func(t *testing.T) {
		a := newTestAPI(t, nil)
		resp := a.doJSON(t, "GET", "/api/v1/events/stream?types=queue", "")
		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Fatalf("Content-Type = %q", ct)
		}

		a.bus.Publish(events.Data{Type: events.TypeHealth, Payload: map[string]int{"skip": 1}})
		a.bus.Publish(events.Data{Type: events.TypeQueue, SubType: "enqueued", Payload: map[string]string{"id": "x"}})

		r := bufio.NewReader(resp.Body)
		var lines []string
		for len(lines) < 3 {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if lines[1] != "event: queue:enqueued" {
			t.Errorf("event line = %q", lines[1])
		}
		if lines[2] != `data: {"id":"x"}` {
			t.Errorf("data line = %q", lines[2])
		}
	})

	t.Run("websocket", func(t *testing.T) {
		a := newTestAPI(t, nil)
		url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/v1/events?types=notification"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		// The subscription is registered after the upgrade completes.
		deadline := time.Now().Add(2 * time.Second)
		for a.bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		a.bus.Publish(events.Data{Type: events.TypeNotification, SubType: "info", Payload: map[string]string{"message": "hi"}})

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e events.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Type != events.TypeNotification || e.SubType != "info" {
			t.Errorf("event = %s:%s", e.Type, e.SubType)
		}
	})
}

func TestHealthAndAuth(t *testing.T) {
	a := newTestAPI(t, &config.Config{AuthToken: "secret"})

	resp := a.doJSON(t, "GET", "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	h := decode[HealthResponse](t, resp)
	if h.Checks["database"] != "not_configured" {
		t.Errorf("database check = %q", h.Checks["database"])
	}
	// No probe has run yet, so no provider is known to work.
	if h.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", h.Status)
	}

	if resp := a.doJSON(t, "GET", "/api/v1/queue", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
	if resp := a.doJSON(t, "GET", "/api/v1/queue?token=secret", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
	if resp := a.doJSON(t, "GET", "/metrics", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

var _ Credentials = (*credentials.Registry)(nil)
