package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

// FaultStoreClient persists correlation state to the fault-store collaborator
// over JSON HTTP. Writes come from the write-behind queue; loads run only at
// boot for rehydration, never on the per-event path.
type FaultStoreClient struct {
	baseURL     string
	alarmsPath  string
	groupsPath  string
	slaPath     string
	breachPath  string
	windowsPath string
	httpClient  *http.Client
}

// NewFaultStoreClient constructs a client targeting the configured fault store.
func NewFaultStoreClient(baseURL, alarmsPath, groupsPath, slaPath, breachPath, windowsPath string, timeout time.Duration) *FaultStoreClient {
	return &FaultStoreClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		alarmsPath:  alarmsPath,
		groupsPath:  groupsPath,
		slaPath:     slaPath,
		breachPath:  breachPath,
		windowsPath: windowsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SaveAlarm upserts one alarm record.
func (c *FaultStoreClient) SaveAlarm(ctx context.Context, alarm models.Alarm) error {
	return c.post(ctx, "repo.SaveAlarm", c.alarmsPath, alarm)
}

// SaveGroup upserts one correlation group record.
func (c *FaultStoreClient) SaveGroup(ctx context.Context, group models.CorrelationGroup) error {
	return c.post(ctx, "repo.SaveGroup", c.groupsPath, group)
}

// SaveInstance upserts one SLA instance snapshot.
func (c *FaultStoreClient) SaveInstance(ctx context.Context, instance models.SLAInstance) error {
	return c.post(ctx, "repo.SaveInstance", c.slaPath, instance)
}

// SaveBreach records one SLA breach.
func (c *FaultStoreClient) SaveBreach(ctx context.Context, breach models.SLABreach) error {
	return c.post(ctx, "repo.SaveBreach", c.breachPath, breach)
}

// LoadOpenAlarms fetches open alarms for crash rehydration.
func (c *FaultStoreClient) LoadOpenAlarms(ctx context.Context) ([]models.Alarm, error) {
	var response struct {
		Alarms []models.Alarm `json:"alarms"`
	}
	if err := c.get(ctx, "repo.LoadOpenAlarms", c.alarmsPath+"?status=open", &response); err != nil {
		return nil, err
	}
	return response.Alarms, nil
}

// LoadActiveMaintenanceWindows fetches the maintenance calendar at boot.
func (c *FaultStoreClient) LoadActiveMaintenanceWindows(ctx context.Context) ([]models.MaintenanceWindow, error) {
	var response struct {
		Windows []models.MaintenanceWindow `json:"windows"`
	}
	if err := c.get(ctx, "repo.LoadActiveMaintenanceWindows", c.windowsPath, &response); err != nil {
		return nil, err
	}
	return response.Windows, nil
}

func (c *FaultStoreClient) post(ctx context.Context, op, endpointPath string, payload any) error {
	if c == nil || c.baseURL == "" {
		return utils.NewRepositoryError(op, "fault store base URL not configured", nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewRepositoryError(op, "marshal payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolvePath(endpointPath), bytes.NewReader(body))
	if err != nil {
		return utils.NewRepositoryError(op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewRepositoryError(op, "fault store unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return utils.NewRepositoryError(op, fmt.Sprintf("fault store returned %s", resp.Status), nil)
	}
	return nil
}

func (c *FaultStoreClient) get(ctx context.Context, op, endpointPath string, out any) error {
	if c == nil || c.baseURL == "" {
		return utils.NewRepositoryError(op, "fault store base URL not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePath(endpointPath), nil)
	if err != nil {
		return utils.NewRepositoryError(op, "build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewRepositoryError(op, "fault store unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewRepositoryError(op, fmt.Sprintf("fault store returned %s", resp.Status), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewRepositoryError(op, "decode response", err)
	}
	return nil
}

func (c *FaultStoreClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	rawPath, query, hasQuery := strings.Cut(cleaned, "?")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, rawPath)
	if hasQuery {
		u.RawQuery = query
	}
	return u.String()
}
