package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pomotimer/pomoledger/internal/insights"
)

// TestContentTypeWrapper verifies that Content-Type is only set if missing
// when the status code matches the trigger status.
func TestContentTypeWrapper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		handler         http.HandlerFunc
		triggerStatus   int
		wantStatus      int
		wantContentType string
		wantBody        string
	}{
		{
			name: "SetsContentTypeOnTriggerStatusMissingHeader",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"timeout"}`))
			},
			triggerStatus:   http.StatusServiceUnavailable,
			wantStatus:      http.StatusServiceUnavailable,
			wantContentType: "application/json",
			wantBody:        `{"error":"timeout"}`,
		},
		{
			name: "RespectsExistingContentTypeOnTriggerStatus",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("timeout error"))
			},
			triggerStatus:   http.StatusServiceUnavailable,
			wantStatus:      http.StatusServiceUnavailable,
			wantContentType: "text/plain",
			wantBody:        "timeout error",
		},
		{
			name: "IgnoresNonTriggerStatus",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			},
			triggerStatus:   http.StatusServiceUnavailable,
			wantStatus:      http.StatusOK,
			wantContentType: "", // Not set by wrapper
			wantBody:        "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			wrapper := &contentTypeWrapper{
				ResponseWriter: w,
				contentType:    "application/json",
				triggerStatus:  tt.triggerStatus,
			}

			req := httptest.NewRequest("GET", "/", nil)
			tt.handler(wrapper, req)

			assertRecorderStatus(t, w, tt.wantStatus)

			resp := w.Result()
			defer resp.Body.Close()

			gotCT := resp.Header.Get("Content-Type")
			if tt.wantContentType == "" {
				// Wrapper must NOT force application/json on non-trigger statuses.
				// Content-Type may be sniffed by httptest, but must not be
				// the wrapper's configured type.
				if gotCT == "application/json" {
					t.Errorf(
						"Content-Type = %q; wrapper should not set it for non-trigger status",
						gotCT,
					)
				}
			} else if gotCT != tt.wantContentType {
				t.Errorf("Content-Type = %q, want %q", gotCT, tt.wantContentType)
			}

			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", string(body), tt.wantBody)
			}
		})
	}
}

// TestWithTimeoutTriggersOnSlowHandler verifies that withTimeout produces a
// 503 JSON timeout response when the handler exceeds the configured duration.
func TestWithTimeoutTriggersOnSlowHandler(t *testing.T) {
	t.Parallel()

	srv := testServer(t, 10*time.Millisecond)

	// Handler that blocks well past the timeout.
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		// If we reach here after context cancel, TimeoutHandler
		// already wrote the 503.
	})

	handler := srv.withTimeout(slow)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	assertTimeoutResponse(t, resp)
}

// blockingSnapshotter never answers until the request ends.
type blockingSnapshotter struct{}

func (blockingSnapshotter) Snapshot(
	ctx context.Context,
) (insights.Snapshot, error) {
	<-ctx.Done()
	return insights.Snapshot{}, ctx.Err()
}

// TestRoutesTimeoutWiring verifies that both the prefixed and the
// legacy insights routes are wrapped with the timeout middleware.
func TestRoutesTimeoutWiring(t *testing.T) {
	t.Parallel()

	srv := testServer(t, 10*time.Millisecond)
	srv = New(srv.cfg, srv.db, WithSnapshotter(blockingSnapshotter{}))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/api/v1/insights", "/insights"} {
		t.Run(path, func(t *testing.T) {
			resp, err := ts.Client().Get(ts.URL + path)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			assertTimeoutResponse(t, resp)
		})
	}
}

func TestWithTimeout_RejectsOversizedBody(t *testing.T) {
	t.Parallel()
	srv := testServer(t, 5*time.Second)

	body := `{"kind":"focus","duration_ms":1000,"pad":"` +
		strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assertRecorderStatus(t, w, http.StatusRequestEntityTooLarge)
	assertContentType(t, w, "application/json")

	n, err := srv.db.Count(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("oversized body recorded %d session(s)", n)
	}
}

func TestWithTimeout_PassesFastResponseThrough(t *testing.T) {
	t.Parallel()
	srv := testServer(t, time.Second)

	h := srv.withTimeout(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/api/v1/sessions/7")
		writeJSON(w, http.StatusCreated, map[string]int64{"id": 7})
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assertRecorderStatus(t, w, http.StatusCreated)
	assertContentType(t, w, "application/json")
	if got := w.Header().Get("Location"); got != "/api/v1/sessions/7" {
		t.Errorf("Location = %q", got)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"id":7}` {
		t.Errorf("body = %q", got)
	}
}
