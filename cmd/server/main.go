package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/auth"
	"github.com/dbisina/wayfarian-system-sub000/internal/config"
	"github.com/dbisina/wayfarian-system-sub000/internal/db"
	"github.com/dbisina/wayfarian-system-sub000/internal/handlers"
	"github.com/dbisina/wayfarian-system-sub000/internal/middleware"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := config.LoadServer()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	client, err := db.ConnectMongo(cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}()
	log.Info("Connected to MongoDB")

	database := client.Database(cfg.MongoDB)
	users := &db.MongoUserCollection{Collection: database.Collection("users")}
	journeys := &db.MongoJourneyCollection{Collection: database.Collection("journeys")}
	instances := &db.MongoInstanceCollection{Collection: database.Collection("instances")}
	events := &db.MongoEventCollection{Collection: database.Collection("events")}

	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	authHandler := handlers.NewAuthHandler(authService, users)
	journeyHandler := handlers.NewJourneyHandler(journeys, instances, events)

	authMW := middleware.NewAuthMiddleware(authService)
	rateMW := middleware.NewRateLimitMiddleware()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("GET /api/auth/profile", authHandler.GetProfile)
	mux.HandleFunc("POST /api/auth/change-password", authHandler.ChangePassword)

	mux.HandleFunc("POST /api/journeys", journeyHandler.CreateJourney)
	mux.HandleFunc("GET /api/journeys/{id}", journeyHandler.GetJourney)
	mux.HandleFunc("GET /api/groups/{groupID}/journey", journeyHandler.GetActiveJourneyForGroup)
	mux.Handle("POST /api/journeys/{id}/end", authMW.RequireAdmin(http.HandlerFunc(journeyHandler.ForceEndJourney)))
	mux.HandleFunc("POST /api/journeys/{id}/instances", journeyHandler.StartInstance)
	mux.HandleFunc("GET /api/journeys/{id}/events", journeyHandler.GetEvents)
	mux.HandleFunc("POST /api/journeys/{id}/events", journeyHandler.AppendEvent)

	mux.HandleFunc("GET /api/instances/{id}", journeyHandler.GetInstance)
	mux.HandleFunc("POST /api/instances/{id}/pause", journeyHandler.PauseInstance)
	mux.HandleFunc("POST /api/instances/{id}/resume", journeyHandler.ResumeInstance)
	mux.HandleFunc("POST /api/instances/{id}/complete", journeyHandler.CompleteInstance)
	mux.HandleFunc("POST /api/instances/{id}/stats", journeyHandler.UpdateInstanceStats)

	handler := rateMW.RateLimit(cfg.RateLimitPerMinute, 60)(authMW.Authenticate(mux))

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}
