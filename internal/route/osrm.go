package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// DefaultOSRMBaseURL is the public OSRM demo endpoint.
const DefaultOSRMBaseURL = "https://router.project-osrm.org"

// Fetcher computes an ordered polyline from origin to destination.
type Fetcher interface {
	FetchRoute(ctx context.Context, origin, dest models.Location) ([]models.Location, error)
}

// OSRMFetcher fetches driving routes from an OSRM server.
type OSRMFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewOSRMFetcher creates a fetcher against the given base URL, falling back
// to the public endpoint when empty.
func NewOSRMFetcher(baseURL string) *OSRMFetcher {
	if baseURL == "" {
		baseURL = DefaultOSRMBaseURL
	}
	return &OSRMFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchRoute requests a driving route and returns its coordinates in order.
func (f *OSRMFetcher) FetchRoute(ctx context.Context, origin, dest models.Location) ([]models.Location, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		f.BaseURL, origin.Lon, origin.Lat, dest.Lon, dest.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}

	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]models.Location, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, models.Location{Lat: c[1], Lon: c[0]})
	}
	return pts, nil
}
