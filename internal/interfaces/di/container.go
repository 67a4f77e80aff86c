package di

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/application/services"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/connection"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/notification"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/querycache"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/ratelimit"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/api"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/config"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/logging"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/offline"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/transport/mqtt"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/transport/websocket"
)

// Options control how the container is built
type Options struct {
	ConfigPath string
	Overrides  config.Overrides
	// LogOutput defaults to stderr
	LogOutput io.Writer
	// Quiet discards all logging. The dashboard owns the terminal.
	Quiet bool
	// NotifyOut receives delivered notifications. Nil records them only.
	NotifyOut io.Writer
	// Clock defaults to the real clock
	Clock clock.Clock
}

// Container holds all application dependencies
type Container struct {
	// Configuration
	ConfigRepo *config.Repository
	Config     *config.Config

	Logger hclog.Logger
	Clock  clock.Clock

	// Infrastructure
	API        *api.Client
	RateLimits *ratelimit.Store
	Cache      *querycache.Cache
	// Offline is nil when the offline cache is disabled or failed to open
	Offline    *offline.Store
	Connection *connection.Lifecycle
	// PushTransport is the transport Connection dials
	PushTransport connection.Transport

	// Application services
	Detections    *services.DetectionStream
	Batches       *services.BatchTracker
	Zones         *services.ZoneActivity
	Events        *services.EventFeed
	Notifications *services.Notifications
}

// NewContainer loads the configuration and wires every component. The
// push connection is built but not started.
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	bootLogger := hclog.NewNullLogger()
	if !opts.Quiet {
		bootLogger = logging.New(logging.Options{Level: "warn", Output: opts.LogOutput})
	}

	repo := config.NewRepository(opts.ConfigPath, opts.Overrides, bootLogger.Named("config"))
	cfg, err := repo.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	c := &Container{ConfigRepo: repo, Config: cfg, Clock: opts.Clock}
	if opts.Quiet {
		c.Logger = logging.Discard()
	} else {
		c.Logger = logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: opts.LogOutput})
	}

	c.initializeInfrastructure(ctx)
	c.initializeServices(opts.NotifyOut)

	c.Logger.Debug("container initialized", "config", repo.Path(), "transport", cfg.Stream.Transport)
	return c, nil
}

func (c *Container) initializeInfrastructure(ctx context.Context) {
	cfg := c.Config

	c.RateLimits = ratelimit.NewStore()
	c.API = api.New(api.Options{
		BaseURL:    cfg.API.BaseURL,
		APIKey:     cfg.API.APIKey,
		Timeout:    cfg.API.Timeout,
		RateLimits: c.RateLimits,
		Clock:      c.Clock,
		Logger:     c.Logger.Named("api"),
	})
	c.Cache = querycache.New(querycache.Options{Clock: c.Clock, Logger: c.Logger.Named("cache")})

	if cfg.Offline.Enabled {
		store, err := offline.Open(ctx, cfg.Offline.Path)
		if err != nil {
			// The client keeps working without the offline copy.
			c.Logger.Warn("offline cache unavailable", "path", cfg.Offline.Path, "error", err)
		} else {
			c.Offline = store
		}
	}

	c.PushTransport = c.Transport()
	c.Connection = connection.NewLifecycle(connection.Options{
		Transport:  c.PushTransport,
		Retry:      cfg.Retry,
		Clock:      c.Clock,
		Logger:     c.Logger.Named("connection"),
		StaleAfter: cfg.Heartbeat.StaleAfter,
	})
}

// Transport builds the push transport selected by the configuration
func (c *Container) Transport() connection.Transport {
	cfg := c.Config.Stream
	if cfg.Transport == config.TransportMQTT {
		return mqtt.New(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
			Logger:   c.Logger.Named("mqtt"),
		})
	}
	return websocket.New(websocket.Options{
		URL:    cfg.WebSocketURL,
		Topics: cfg.Topics,
		APIKey: c.Config.API.APIKey,
		Logger: c.Logger.Named("websocket"),
	})
}

func (c *Container) initializeServices(notifyOut io.Writer) {
	cfg := c.Config
	deps := services.Deps{Source: c.Connection, Clock: c.Clock, Logger: c.Logger}

	c.Detections = services.NewDetectionStream(deps, services.DetectionStreamOptions{MaxSize: cfg.History.Detections})
	c.Batches = services.NewBatchTracker(deps, services.BatchTrackerOptions{
		MaxActive:    cfg.History.Batches,
		MaxCompleted: cfg.History.Batches,
	})
	c.Zones = services.NewZoneActivity(deps, c.Cache, c.API, services.ZoneActivityOptions{
		MaxCrossings: cfg.History.ZoneCrossings,
	})

	feedOpts := services.EventFeedOptions{}
	// A nil *offline.Store must not become a non-nil interface.
	if c.Offline != nil {
		feedOpts.Offline = c.Offline
	}
	c.Events = services.NewEventFeed(deps, c.Cache, c.API, feedOpts)

	var notifier notification.Notifier
	if notifyOut != nil {
		notifier = notification.WriterNotifier{Out: notifyOut, Bell: true}
	}
	dispatcher := notification.NewDispatcher(
		notification.NewHistory(cfg.History.Notifications),
		notifier,
		c.Clock,
		c.Logger.Named("notifications"),
	)
	c.Notifications = services.NewNotifications(deps, dispatcher, services.NotificationsOptions{})
}

// Start opens the push connection
func (c *Container) Start(ctx context.Context) error {
	return c.Connection.Start(ctx)
}

// Shutdown closes the services, the connection and the offline cache
func (c *Container) Shutdown(ctx context.Context) error {
	c.Logger.Debug("shutting down")

	c.Detections.Close()
	c.Batches.Close()
	c.Zones.Close()
	c.Events.Close()
	c.Notifications.Close()

	var errs []error
	if err := c.Connection.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}
	if counter, ok := c.PushTransport.(interface{ Dropped() int64 }); ok {
		if n := counter.Dropped(); n > 0 {
			c.Logger.Warn("push messages dropped on a full receive buffer", "count", n)
		}
	}
	if c.Offline != nil {
		if err := c.Offline.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing offline cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the backend answers
func (c *Container) HealthCheck(ctx context.Context) error {
	if _, err := c.API.ListEvents(ctx, api.EventQuery{Limit: 1}); err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	return nil
}
