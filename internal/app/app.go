// Package app wires configuration into stores, locks, senders and services.
// Both the API server and the cron runner start from here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"member-intranet/internal/config"
	"member-intranet/internal/distlock"
	"member-intranet/internal/jobs"
	"member-intranet/internal/logger"
	"member-intranet/internal/mailer"
	"member-intranet/internal/repository"
	"member-intranet/internal/repository/memory"
	"member-intranet/internal/repository/postgres"
	"member-intranet/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config *config.Config

	Store Pinger

	Rentals       service.RentalService
	MassMail      service.MassMailService
	Notifications service.NotificationService

	db    *sql.DB
	redis *redis.Client
}

// repos is what both store implementations provide.
type repos struct {
	items    repository.ItemRepository
	rentals  repository.RentalRepository
	legacy   repository.LegacyRentalRepository
	members  repository.MemberRepository
	events   repository.EventRepository
	massMail repository.MassMailRepository
	notes    repository.NotificationRepository
}

// New opens connections and builds the services. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	var r repos
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		st := memory.NewStore()
		r = repos{st.ItemRepository, st.RentalRepository, st.LegacyRentalRepository, st.MemberRepository,
			st.EventRepository, st.MassMailRepository, st.NotificationRepository}
		a.Store = st
	default:
		logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database)
		db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("Database connection established")
		a.db = db
		st := postgres.NewStore(db)
		r = repos{st.ItemRepository, st.RentalRepository, st.LegacyRentalRepository, st.MemberRepository,
			st.EventRepository, st.MassMailRepository, st.NotificationRepository}
		a.Store = st
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("Redis connection established", "addr", cfg.Redis.Addr)
	}
	locks := distlock.NewFactory(a.redis, a.db, cfg.MassMail.LockTTL())

	sender, err := mailer.NewSender(ctx, cfg.Email)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Email provider configured", "provider", cfg.Email.Provider)

	emailSvc := service.NewEmailService(sender, cfg.Email.BoardAddress)
	a.Rentals = service.NewRentalService(r.items, r.rentals, r.legacy, r.members, r.notes, emailSvc)
	a.MassMail = service.NewMassMailService(r.massMail, r.events, sender, locks, cfg.MassMail)
	a.Notifications = service.NewNotificationService(r.notes)
	return a, nil
}

// JobRunner builds the scheduled-job runner over the app's services.
func (a *App) JobRunner() *jobs.JobRunner {
	return jobs.NewJobRunner(&jobs.Services{Rental: a.Rentals, MassMail: a.MassMail}, a.Config)
}

// AccessTokenExpiry is the configured lifetime of member access tokens.
func (a *App) AccessTokenExpiry() time.Duration {
	return time.Duration(a.Config.JWT.AccessTokenExpiry) * time.Minute
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}
}
