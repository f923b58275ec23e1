package main

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/channel"
	"github.com/dbisina/wayfarian-system-sub000/internal/config"
	"github.com/dbisina/wayfarian-system-sub000/internal/engine"
	"github.com/dbisina/wayfarian-system-sub000/internal/journeyapi"
	"github.com/dbisina/wayfarian-system-sub000/internal/models"
	"github.com/dbisina/wayfarian-system-sub000/internal/motion"
	"github.com/dbisina/wayfarian-system-sub000/internal/persist"
	"github.com/dbisina/wayfarian-system-sub000/internal/route"
)

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid float in environment, using default")
		return fallback
	}
	return f
}

// stepToward advances from cur toward dest at roughly speedMs for the given
// interval, with a little GPS-like jitter.
func stepToward(cur, dest models.Location, speedMs float64, interval time.Duration) models.Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(cur.Lat*math.Pi/180)

	dLat := (dest.Lat - cur.Lat) * latMetersPerDeg
	dLon := (dest.Lon - cur.Lon) * lonMetersPerDeg
	dist := math.Hypot(dLat, dLon)
	step := speedMs * interval.Seconds()
	if dist <= step || dist == 0 {
		return dest
	}

	jitter := func() float64 { return (rand.Float64()*2 - 1) * 3 }
	return models.Location{
		Lat: cur.Lat + (dLat/dist*step+jitter())/latMetersPerDeg,
		Lon: cur.Lon + (dLon/dist*step+jitter())/lonMetersPerDeg,
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := config.LoadRider()
	if cfg.UserID == "" || cfg.GroupID == "" {
		log.Fatal("RIDER_USER_ID and RIDER_GROUP_ID must be set")
	}

	store, err := persist.Open(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("Failed to open local store")
	}

	api := journeyapi.NewClient(cfg.APIBaseURL, cfg.APIToken)
	fetcher := route.NewOSRMFetcher(cfg.OSRMBaseURL)

	// The channel needs its handlers before the engine exists, so the
	// closures capture the engine variable assigned below.
	var eng *engine.Engine
	ch := channel.New(channel.Config{
		BrokerURL: cfg.BrokerURL,
		UserID:    cfg.UserID,
	}, channel.Handlers{
		OnPeerLocation:     func(u models.LocationUpdate) { eng.HandlePeerLocation(u) },
		OnPeerLifecycle:    func(u models.LifecycleUpdate) { eng.HandlePeerLifecycle(u) },
		OnJourneyEvent:     func(ev models.RideEvent) { eng.HandleJourneyEvent(ev) },
		OnJourneyCompleted: func(jc models.JourneyCompletion) { eng.HandleJourneyCompleted(jc) },
		OnAchievement: func(a models.AchievementUnlocked) {
			log.WithFields(log.Fields{
				"achievement_id": a.AchievementID,
				"xp":             a.XPAwarded,
			}).Info("Achievement unlocked")
		},
		OnReconnect: func() { eng.HandleReconnect() },
	})

	eng = engine.New(engine.Config{
		UserID:  cfg.UserID,
		GroupID: cfg.GroupID,
		Admin:   cfg.Admin,
	}, api, ch, store, fetcher, engine.RealClock())

	ctx := context.Background()
	resumed, err := eng.Open(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to open engine")
	}
	defer eng.Close()
	defer store.Close()

	start := models.Location{
		Lat: envFloat("START_LAT", 39.9526),
		Lon: envFloat("START_LON", -75.1652),
	}
	dest := models.Location{
		Lat: envFloat("DEST_LAT", 40.0115),
		Lon: envFloat("DEST_LON", -75.2005),
	}

	if !resumed {
		journey, err := api.ActiveJourneyForGroup(ctx, cfg.GroupID)
		if errors.Is(err, journeyapi.ErrNotFound) {
			if !cfg.Admin {
				log.Fatal("No active journey for group; an administrator must create one first")
			}
			journey, err = eng.CreateJourney(ctx, &dest)
			if err != nil {
				log.WithError(err).Fatal("Failed to create journey")
			}
			log.WithField("journey_id", journey.ID).Info("Journey created")
		} else if err != nil {
			log.WithError(err).Fatal("Failed to look up active journey")
		}

		if err := eng.StartRide(ctx, journey.ID, &start); err != nil {
			log.WithError(err).Fatal("Failed to start ride")
		}
		log.WithField("journey_id", journey.ID).Info("Ride started")
	} else {
		log.Info("Resumed active ride from local snapshot")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	cur := start
	ticker := time.NewTicker(cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cur = stepToward(cur, dest, 10, cfg.SampleInterval)
			err := eng.OfferSample(motion.Sample{
				Lat:      cur.Lat,
				Lon:      cur.Lon,
				At:       time.Now(),
				Source:   motion.SourceAuthoritative,
				Accuracy: 10,
			})
			if err != nil {
				log.WithError(err).Debug("Sample rejected")
			}
			if cur == dest {
				if err := eng.CompleteRide(ctx); err != nil {
					log.WithError(err).Error("Failed to complete ride")
				}
				log.WithField("total_km", eng.Stats().TotalDistanceKm).Info("Destination reached, ride completed")
				return
			}
		case <-stop:
			// Leave the ride active: the snapshot in the local store lets
			// the next run resume it.
			log.Info("Shutting down, ride remains active")
			return
		}
	}
}
