package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faultline-io/faultline/internal/alarms"
	"github.com/faultline-io/faultline/internal/engine"
	"github.com/faultline-io/faultline/internal/maintenance"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/rules"
	"github.com/faultline-io/faultline/internal/services"
	"github.com/faultline-io/faultline/internal/utils"
)

type emptyRules struct{}

func (emptyRules) Snapshot() *rules.Set {
	return rules.Compile(nil, utils.NewDiscardLogger())
}

func newTestHandler(t *testing.T) (http.Handler, *alarms.Store, func()) {
	t.Helper()
	store := alarms.NewStore(utils.NewDiscardLogger(), nil)
	go func() {
		for range store.Transitions() {
		}
	}()

	filter := maintenance.NewFilter(utils.NewDiscardLogger(), nil)
	eng := engine.New(utils.NewDiscardLogger(), store, filter, emptyRules{}, engine.Config{Shards: 2})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()

	queries := services.NewQueryService(utils.NewDiscardLogger(), store, nil, eng)
	handler := NewHandler(utils.NewDiscardLogger(), eng, queries)
	return handler.Routes(), store, cancel
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return rec
}

func TestIngestAndQueryAlarms(t *testing.T) {
	handler, _, stop := newTestHandler(t)
	defer stop()

	body := `{"resource":{"type":"olt","id":"dev-A"},"alarm_type":"down","severity":"critical","timestamp":"2025-06-01T12:00:00Z"}`
	if rec := postJSON(t, handler, "/api/v1/events", body); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	// Intake is asynchronous; poll the query surface.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var resp struct {
			Alarms []models.Alarm `json:"alarms"`
		}
		getJSON(t, handler, "/api/v1/alarms", &resp)
		if len(resp.Alarms) == 1 && resp.Alarms[0].Resource.ID == "dev-A" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alarm never appeared on query surface: %+v", resp.Alarms)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIngestRejectsMalformedEvent(t *testing.T) {
	handler, _, stop := newTestHandler(t)
	defer stop()

	// Missing resource reference.
	body := `{"alarm_type":"down","severity":"critical","timestamp":"2025-06-01T12:00:00Z"}`
	if rec := postJSON(t, handler, "/api/v1/events", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	if rec := postJSON(t, handler, "/api/v1/events", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestAcknowledgeFlow(t *testing.T) {
	handler, store, stop := newTestHandler(t)
	defer stop()

	alarm, _ := store.UpsertFromEvent(models.Event{
		Resource:  models.ResourceRef{Type: "olt", ID: "dev-A"},
		AlarmType: "down",
		Severity:  models.SeverityCritical,
		Timestamp: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	})

	rec := postJSON(t, handler, "/api/v1/alarms/"+alarm.ID+"/acknowledge", `{"at":"2025-06-01T12:05:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var acked models.Alarm
	if err := json.Unmarshal(rec.Body.Bytes(), &acked); err != nil {
		t.Fatalf("decode alarm: %v", err)
	}
	if acked.Status != models.StatusAcknowledged {
		t.Fatalf("expected acknowledged, got %s", acked.Status)
	}

	// A second acknowledge conflicts.
	if rec := postJSON(t, handler, "/api/v1/alarms/"+alarm.ID+"/acknowledge", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	if rec := postJSON(t, handler, "/api/v1/alarms/unknown/resolve", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unknown alarm, got %d", rec.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	handler, _, stop := newTestHandler(t)
	defer stop()

	var health map[string]string
	if rec := getJSON(t, handler, "/healthz", &health); rec.Code != http.StatusOK || health["status"] != "SERVING" {
		t.Fatalf("unexpected health response %d %v", rec.Code, health)
	}

	var stats models.EngineStats
	if rec := getJSON(t, handler, "/api/v1/stats", &stats); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from stats, got %d", rec.Code)
	}
}
