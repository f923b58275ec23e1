package route

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

type stubFetcher struct {
	calls int
	fail  bool
	route []models.Location
}

func (s *stubFetcher) FetchRoute(ctx context.Context, origin, dest models.Location) ([]models.Location, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("unreachable")
	}
	return s.route, nil
}

func testRoute() []models.Location {
	return []models.Location{{Lat: 40.0, Lon: -75.0}, {Lat: 40.01, Lon: -75.01}}
}

func TestPlanner_NoRecomputeWithinRadius(t *testing.T) {
	f := &stubFetcher{route: testRoute()}
	p := NewPlanner(f, models.Location{Lat: 40.0, Lon: -75.0})
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	recomputed, err := p.Update(context.Background(), models.Location{Lat: 40.01, Lon: -75.01})
	require.NoError(t, err)
	assert.True(t, recomputed)

	// wiggle well inside 120 m, with plenty of elapsed time
	for i := 1; i <= 5; i++ {
		now = base.Add(time.Duration(i) * time.Minute)
		recomputed, err = p.Update(context.Background(), models.Location{Lat: 40.0101, Lon: -75.0101})
		require.NoError(t, err)
		assert.False(t, recomputed)
	}
	assert.Equal(t, 1, f.calls)
}

func TestPlanner_CooldownBlocksRecompute(t *testing.T) {
	f := &stubFetcher{route: testRoute()}
	p := NewPlanner(f, models.Location{Lat: 40.0, Lon: -75.0})
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	_, err := p.Update(context.Background(), models.Location{Lat: 40.01, Lon: -75.01})
	require.NoError(t, err)

	// moved far, but inside the cooldown window
	now = base.Add(3 * time.Second)
	recomputed, err := p.Update(context.Background(), models.Location{Lat: 40.05, Lon: -75.05})
	require.NoError(t, err)
	assert.False(t, recomputed)

	// one update beyond the radius after the cooldown: exactly one recompute
	now = base.Add(11 * time.Second)
	recomputed, err = p.Update(context.Background(), models.Location{Lat: 40.05, Lon: -75.05})
	require.NoError(t, err)
	assert.True(t, recomputed)
	assert.Equal(t, 2, f.calls)
}

func TestPlanner_FailureKeepsPreviousPolyline(t *testing.T) {
	f := &stubFetcher{route: testRoute()}
	p := NewPlanner(f, models.Location{Lat: 40.0, Lon: -75.0})
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	_, err := p.Update(context.Background(), models.Location{Lat: 40.01, Lon: -75.01})
	require.NoError(t, err)
	want := p.Polyline()

	f.fail = true
	now = base.Add(time.Minute)
	recomputed, err := p.Update(context.Background(), models.Location{Lat: 40.05, Lon: -75.05})
	assert.False(t, recomputed)
	assert.ErrorIs(t, err, ErrRouteUnavailable)
	assert.Equal(t, want, p.Polyline())
}

func TestPlanner_BreadcrumbFallback(t *testing.T) {
	f := &stubFetcher{fail: true}
	p := NewPlanner(f, models.Location{Lat: 40.0, Lon: -75.0})

	p.RecordBreadcrumb(models.Location{Lat: 40.01, Lon: -75.01})
	p.RecordBreadcrumb(models.Location{Lat: 40.011, Lon: -75.011})

	_, err := p.Update(context.Background(), models.Location{Lat: 40.011, Lon: -75.011})
	assert.ErrorIs(t, err, ErrRouteUnavailable)
	assert.Len(t, p.Polyline(), 2)
}

func TestOSRMFetcher_ParsesGeoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"routes":[{"geometry":{"coordinates":[[-75.0,40.0],[-75.01,40.01]]}}]}`))
	}))
	defer srv.Close()

	f := NewOSRMFetcher(srv.URL)
	pts, err := f.FetchRoute(context.Background(), models.Location{Lat: 40.0, Lon: -75.0}, models.Location{Lat: 40.01, Lon: -75.01})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 40.0, pts[0].Lat)
	assert.Equal(t, -75.0, pts[0].Lon)
}

func TestOSRMFetcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewOSRMFetcher(srv.URL)
	_, err := f.FetchRoute(context.Background(), models.Location{}, models.Location{})
	assert.Error(t, err)
}
