// Package web serves the operational endpoints of the daemon: a health check
// for load balancers and the prometheus scrape endpoint.
package web

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	fiberlogger "github.com/bitu-idm/dirsync/internal/logger/adapter/fiber"
)

// Service represents the ops web service.
type Service struct {
	App          *fiber.App
	cfg          *config.Config
	fastShutDown bool
	alive        atomic.Bool
	db           *gorm.DB
}

// Start starts the web service on the given address. It blocks until the server stops.
func (s *Service) Start(addr string) error {
	s.alive.Store(true)

	if err := s.App.Listen(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the server. Unless fast shutdown is set, the health check
// fails for ShutDownTime seconds first so load balancers drain the instance.
func (s *Service) Shutdown() {
	if !s.fastShutDown {
		log.Info().Msgf(
			"graceful shutdown: return 503 while %d seconds to let LB to remove this pod from active targets",
			s.cfg.Webserver.ShutDownTime,
		)

		s.alive.Store(false)
		time.Sleep(time.Duration(s.cfg.Webserver.ShutDownTime) * time.Second)
	}

	log.Info().Msg("stopping http server ...")

	if err := s.App.Shutdown(); err != nil {
		log.Error().Err(err).Msg("")
	}

	log.Info().Msg("http server was stopped")
}

// SetFastShutdown skips the drain period on shutdown.
func (s *Service) SetFastShutdown(fast bool) {
	s.fastShutDown = fast
}

func (s *Service) checkAlive(c *fiber.Ctx) error {
	if !s.alive.Load() {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.UserContext())
	}

	if err != nil {
		log.Warn().Err(err).Msg("checkalive: database unreachable")
		return c.SendStatus(fiber.StatusServiceUnavailable)
	}

	pending, parked, err := outbox.Counts(s.db)
	if err != nil {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"pending": pending,
		"parked":  parked,
	})
}

// New creates the ops web service with the given configuration.
func New(cfg *config.Config, db *gorm.DB) *Service {
	if cfg == nil {
		panic("config cannot be nil")
	}

	if db == nil {
		panic("db cannot be nil")
	}

	app := fiber.New(
		fiber.Config{
			AppName:               cfg.Title,
			CaseSensitive:         true,
			Prefork:               false,
			Immutable:             true,
			DisableStartupMessage: true,
		},
	)

	app.Use(fiberlogger.New(fiberlogger.Config{
		Config:        cfg.Log,
		CheckAliveURI: cfg.Webserver.CheckAliveURI,
	}))

	service := &Service{
		cfg: cfg,
		App: app,
		db:  db,
	}
	service.alive.Store(true)

	app.Get(cfg.Webserver.CheckAliveURI, service.checkAlive)
	app.Get(cfg.Webserver.MetricsURI, adaptor.HTTPHandler(promhttp.Handler()))

	return service
}
