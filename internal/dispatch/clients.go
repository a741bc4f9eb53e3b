package dispatch

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
)

// TicketClient talks to the ticketing collaborator over JSON HTTP.
type TicketClient struct {
	baseURL    string
	createPath string
	httpClient *http.Client
}

// NewTicketClient constructs a client for the configured ticketing endpoint.
func NewTicketClient(baseURL, createPath string, timeout time.Duration) *TicketClient {
	return &TicketClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		createPath: createPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateTicket opens a ticket and returns the collaborator's reference.
func (c *TicketClient) CreateTicket(ctx context.Context, req models.EscalationRequest) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("ticketing base URL not configured")
	}

	var response struct {
		TicketRef string `json:"ticket_ref"`
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.createPath), req, &response); err != nil {
		return "", fmt.Errorf("ticket creation request failed: %w", err)
	}
	return response.TicketRef, nil
}

// NotifyClient talks to the notification collaborator over JSON HTTP.
type NotifyClient struct {
	baseURL    string
	notifyPath string
	httpClient *http.Client
}

// NewNotifyClient constructs a client for the configured notification endpoint.
func NewNotifyClient(baseURL, notifyPath string, timeout time.Duration) *NotifyClient {
	return &NotifyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		notifyPath: notifyPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify delivers one notification request.
func (c *NotifyClient) Notify(ctx context.Context, req models.NotificationRequest) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification base URL not configured")
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.notifyPath), req, nil); err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	return nil
}

func resolvePath(baseURL, p string) string {
	if baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("collaborator returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
