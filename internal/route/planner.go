package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
	"github.com/dbisina/wayfarian-system-sub000/internal/motion"
)

// ErrRouteUnavailable marks a failed route computation. Non-fatal: the
// previous cached polyline, or the breadcrumb of accepted samples, still
// renders.
var ErrRouteUnavailable = errors.New("route unavailable")

const (
	// DefaultStabilizationRadiusM is how far the participant must move from
	// the last computed origin before a recalculation is considered.
	DefaultStabilizationRadiusM = 120.0

	// DefaultCooldown bounds recalculation frequency regardless of movement.
	DefaultCooldown = 10 * time.Second
)

// Planner produces the polyline from a live origin to a fixed destination,
// throttled by a stabilization radius and a cooldown window to bound
// external calls.
type Planner struct {
	fetcher  Fetcher
	radiusM  float64
	cooldown time.Duration
	now      func() time.Time

	dest       models.Location
	cache      *models.RouteCacheEntry
	breadcrumb []models.Location
	lastTry    time.Time
}

// NewPlanner creates a planner toward the given destination.
func NewPlanner(fetcher Fetcher, dest models.Location) *Planner {
	return &Planner{
		fetcher:  fetcher,
		radiusM:  DefaultStabilizationRadiusM,
		cooldown: DefaultCooldown,
		now:      time.Now,
		dest:     dest,
	}
}

// SetThrottle overrides the stabilization radius and cooldown window.
func (p *Planner) SetThrottle(radiusM float64, cooldown time.Duration) {
	p.radiusM = radiusM
	p.cooldown = cooldown
}

// ShouldRecompute applies the throttle gates for a new origin: the origin
// must have left the stabilization radius of the last computed origin, and
// the cooldown window must have elapsed. A true return claims the attempt,
// starting a new cooldown window.
func (p *Planner) ShouldRecompute(origin models.Location) bool {
	if p.cache != nil {
		movedM := motion.HaversineKm(p.cache.Origin.Lat, p.cache.Origin.Lon, origin.Lat, origin.Lon) * 1000
		if movedM <= p.radiusM {
			return false
		}
	}
	now := p.now()
	if !p.lastTry.IsZero() && now.Sub(p.lastTry) < p.cooldown {
		return false
	}
	p.lastTry = now
	return true
}

// Install replaces the cached entry with a freshly computed polyline.
// Superseded entries are discarded, never merged.
func (p *Planner) Install(origin models.Location, coords []models.Location) {
	p.cache = &models.RouteCacheEntry{
		Origin:      origin,
		Destination: p.dest,
		Coordinates: coords,
		ComputedAt:  p.now(),
	}
}

// Destination returns the fixed destination the planner routes toward.
func (p *Planner) Destination() models.Location {
	return p.dest
}

// Fetch runs the external route computation for an origin that passed the
// gates. Callers may run it off the update path; Install publishes the
// result.
func (p *Planner) Fetch(ctx context.Context, origin models.Location) ([]models.Location, error) {
	coords, err := p.fetcher.FetchRoute(ctx, origin, p.dest)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"origin_lat": origin.Lat,
			"origin_lon": origin.Lon,
		}).Warn("Route computation failed, keeping previous polyline")
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	return coords, nil
}

// Update offers a new origin synchronously: gate, fetch, install. Returns
// true when a recomputation ran and succeeded.
func (p *Planner) Update(ctx context.Context, origin models.Location) (bool, error) {
	if !p.ShouldRecompute(origin) {
		return false, nil
	}
	coords, err := p.Fetch(ctx, origin)
	if err != nil {
		return false, err
	}
	p.Install(origin, coords)
	return true, nil
}

// RecordBreadcrumb appends an accepted motion sample to the fallback trail.
func (p *Planner) RecordBreadcrumb(loc models.Location) {
	p.breadcrumb = append(p.breadcrumb, loc)
}

// Polyline returns the route to draw: the cached computed route when one
// exists, otherwise the raw breadcrumb of accepted samples.
func (p *Planner) Polyline() []models.Location {
	if p.cache != nil {
		return p.cache.Coordinates
	}
	return p.breadcrumb
}

// Cache returns the live cache entry, nil when nothing was computed yet.
func (p *Planner) Cache() *models.RouteCacheEntry {
	return p.cache
}

// Reset drops the cached route, the breadcrumb and the throttle state.
func (p *Planner) Reset() {
	p.cache = nil
	p.breadcrumb = nil
	p.lastTry = time.Time{}
}
