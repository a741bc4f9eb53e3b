package repo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

func newFaultStoreClient(rt roundTripFunc) *FaultStoreClient {
	c := NewFaultStoreClient("http://faultstore.local", "/api/v1/alarms", "/api/v1/groups", "/api/v1/sla", "/api/v1/breaches", "/api/v1/maintenance", time.Second)
	c.httpClient = newTestClient(rt)
	return c
}

func TestSaveAlarmPostsRecord(t *testing.T) {
	var captured models.Alarm
	client := newFaultStoreClient(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.Path != "/api/v1/alarms" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader("{}")),
			Header:     make(http.Header),
		}, nil
	})

	alarm := models.Alarm{
		ID:       "alarm-1",
		Resource: models.ResourceRef{Type: "olt", ID: "dev-A"},
		Severity: models.SeverityCritical,
		Status:   models.StatusActive,
	}
	if err := client.SaveAlarm(context.Background(), alarm); err != nil {
		t.Fatalf("SaveAlarm: %v", err)
	}
	if captured.ID != "alarm-1" || captured.Resource.ID != "dev-A" {
		t.Fatalf("unexpected payload %+v", captured)
	}
}

func TestLoadOpenAlarmsParsesResponse(t *testing.T) {
	client := newFaultStoreClient(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", req.Method)
		}
		if got := req.URL.Query().Get("status"); got != "open" {
			t.Fatalf("expected status=open query, got %q", got)
		}
		body := `{"alarms":[{"id":"alarm-1","resource":{"type":"olt","id":"dev-A"},"severity":"critical","status":"active"}]}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})

	alarms, err := client.LoadOpenAlarms(context.Background())
	if err != nil {
		t.Fatalf("LoadOpenAlarms: %v", err)
	}
	if len(alarms) != 1 || alarms[0].ID != "alarm-1" {
		t.Fatalf("unexpected alarms %+v", alarms)
	}
}

func TestSaveBreachSurfacesTypedError(t *testing.T) {
	client := newFaultStoreClient(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Status:     "500 Internal Server Error",
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})

	err := client.SaveBreach(context.Background(), models.SLABreach{ID: "b-1"})
	if err == nil {
		t.Fatalf("expected error on 500")
	}
	if !utils.IsKind(err, utils.KindRepository) {
		t.Fatalf("expected repository error kind, got %v", err)
	}
}

func TestUnconfiguredClientFailsFast(t *testing.T) {
	client := NewFaultStoreClient("", "/a", "/g", "/s", "/b", "/w", time.Second)
	if err := client.SaveAlarm(context.Background(), models.Alarm{}); err == nil {
		t.Fatalf("expected error when base URL missing")
	}
}
