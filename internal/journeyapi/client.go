package journeyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

var (
	// ErrNotFound marks a journey or instance the server does not know.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation the server refused because it would
	// violate an invariant, e.g. a second active instance for the same
	// journey. Surfaced to the participant, never auto-resolved.
	ErrConflict = errors.New("conflict")
)

// JourneyDetail is a journey with the authoritative copies of all
// participant instances, as returned by the fetch endpoint.
type JourneyDetail struct {
	Journey   models.SharedJourney     `json:"journey"`
	Instances []models.JourneyInstance `json:"instances"`
}

// Client talks to the journey service over HTTP.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client with a bearer token and a bounded timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateJourney creates a shared journey for a group, destination optional.
func (c *Client) CreateJourney(ctx context.Context, groupID string, dest *models.Location) (models.SharedJourney, error) {
	var out models.SharedJourney
	body := map[string]interface{}{"group_id": groupID}
	if dest != nil {
		body["destination"] = dest
	}
	err := c.do(ctx, http.MethodPost, "/api/journeys", body, &out)
	return out, err
}

// Journey fetches a journey and all its instances.
func (c *Client) Journey(ctx context.Context, journeyID string) (JourneyDetail, error) {
	var out JourneyDetail
	err := c.do(ctx, http.MethodGet, "/api/journeys/"+journeyID, nil, &out)
	return out, err
}

// ActiveJourneyForGroup returns the group's active journey, ErrNotFound
// when the group has none.
func (c *Client) ActiveJourneyForGroup(ctx context.Context, groupID string) (models.SharedJourney, error) {
	var out models.SharedJourney
	err := c.do(ctx, http.MethodGet, "/api/groups/"+groupID+"/journey", nil, &out)
	return out, err
}

// ForceEnd asks the server to end a journey on behalf of an administrator.
func (c *Client) ForceEnd(ctx context.Context, journeyID string) (models.SharedJourney, error) {
	var out models.SharedJourney
	err := c.do(ctx, http.MethodPost, "/api/journeys/"+journeyID+"/end", nil, &out)
	return out, err
}

// StartInstance starts the caller's ride instance at the given coordinates.
func (c *Client) StartInstance(ctx context.Context, journeyID string, start models.Location) (models.JourneyInstance, error) {
	var out models.JourneyInstance
	err := c.do(ctx, http.MethodPost, "/api/journeys/"+journeyID+"/instances",
		map[string]interface{}{"start_location": start}, &out)
	return out, err
}

// Instance fetches one instance's authoritative state.
func (c *Client) Instance(ctx context.Context, instanceID string) (models.JourneyInstance, error) {
	var out models.JourneyInstance
	err := c.do(ctx, http.MethodGet, "/api/instances/"+instanceID, nil, &out)
	return out, err
}

// PauseInstance pauses the instance.
func (c *Client) PauseInstance(ctx context.Context, instanceID string) (models.JourneyInstance, error) {
	var out models.JourneyInstance
	err := c.do(ctx, http.MethodPost, "/api/instances/"+instanceID+"/pause", nil, &out)
	return out, err
}

// ResumeInstance resumes the instance.
func (c *Client) ResumeInstance(ctx context.Context, instanceID string) (models.JourneyInstance, error) {
	var out models.JourneyInstance
	err := c.do(ctx, http.MethodPost, "/api/instances/"+instanceID+"/resume", nil, &out)
	return out, err
}

// CompleteInstance completes the instance. Idempotent server-side: a retry
// against an already-completed instance succeeds without change.
func (c *Client) CompleteInstance(ctx context.Context, instanceID string) (models.JourneyInstance, error) {
	var out models.JourneyInstance
	err := c.do(ctx, http.MethodPost, "/api/instances/"+instanceID+"/complete", nil, &out)
	return out, err
}

// UpdateInstanceStats pushes accumulated statistics to the server copy.
func (c *Client) UpdateInstanceStats(ctx context.Context, instanceID string, loc models.Location, stats models.SnapshotStats) error {
	return c.do(ctx, http.MethodPost, "/api/instances/"+instanceID+"/stats",
		map[string]interface{}{"location": loc, "stats": stats}, nil)
}

// Events fetches the server's canonical per-journey event log.
func (c *Client) Events(ctx context.Context, journeyID string) ([]models.RideEvent, error) {
	var out []models.RideEvent
	err := c.do(ctx, http.MethodGet, "/api/journeys/"+journeyID+"/events", nil, &out)
	return out, err
}

// AppendEvent posts a ride event. The server assigns a canonical id and
// echoes back the local id for supersession.
func (c *Client) AppendEvent(ctx context.Context, journeyID string, ev models.RideEvent) (models.RideEvent, error) {
	var out models.RideEvent
	err := c.do(ctx, http.MethodPost, "/api/journeys/"+journeyID+"/events", ev, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode >= 400:
		return fmt.Errorf("journey service status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
