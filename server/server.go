// Package server assembles the HTTP surface of the routing decision engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/metrics"
	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/ai/worker"
	"github.com/hrygo/modelpilot/internal/profile"
	apiv1 "github.com/hrygo/modelpilot/server/router/api/v1"
	"github.com/hrygo/modelpilot/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	apiService *apiv1.APIV1Service
	analyzer   *drift.Analyzer
	scheduler  *cron.Cron
}

func NewServer(ctx context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	registry, err := loadRegistry(instanceProfile)
	if err != nil {
		return nil, err
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

	routingService, err := routing.NewService(routing.ServiceConfig{
		Registry:    registry,
		Performance: storeInstance,
		Decisions:   storeInstance,
		Metrics:     exporter,
		Options:     routingOptions(instanceProfile),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create routing service")
	}

	detector := drift.NewDetector(drift.DetectorConfig{
		MinSampleSize:         instanceProfile.MinDriftSampleSize,
		SignificanceThreshold: instanceProfile.DriftSignificanceThreshold,
	})
	engine, err := drift.NewEngine(storeInstance, storeInstance, exporter, drift.EngineConfig{
		ConfidenceFloor: instanceProfile.SuggestionConfidenceFloor,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create suggestion engine")
	}
	analyzer, err := drift.NewAnalyzer(detector, engine, storeInstance, storeInstance, exporter, drift.DefaultAnalyzerConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create drift analyzer")
	}

	e := echo.New()
	e.Debug = instanceProfile.IsDev()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout:      30 * time.Second,
		ErrorMessage: "request timeout",
	}))

	s := &Server{
		Profile:    instanceProfile,
		Store:      storeInstance,
		echoServer: e,
		analyzer:   analyzer,
	}

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	s.apiService = apiv1.NewAPIV1Service(instanceProfile, storeInstance, registry, routingService, analyzer, engine, exporter)
	s.apiService.RegisterRoutes(e)

	if instanceProfile.DriftSchedule != "" {
		if err := s.scheduleDriftAnalysis(ctx, instanceProfile.DriftSchedule); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) Start(_ context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.scheduler != nil {
		// Let an in-flight analysis pass finish.
		<-s.scheduler.Stop().Done()
	}

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("modelpilot stopped properly")
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "Service ready.")
}

// scheduleDriftAnalysis registers the periodic drift analysis pass.
func (s *Server) scheduleDriftAnalysis(ctx context.Context, spec string) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		if _, err := s.analyzer.Run(ctx); err != nil {
			slog.Error("scheduled drift analysis failed", "error", err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid drift schedule %q", spec)
	}
	s.scheduler = scheduler
	slog.Info("drift analysis scheduled", "spec", spec)
	return nil
}

func loadRegistry(instanceProfile *profile.Profile) (*worker.Registry, error) {
	if instanceProfile.WorkersConfig == "" {
		slog.Info("no workers config provided, using built-in registry")
		return worker.NewDefaultRegistry(), nil
	}
	registry, err := worker.LoadFromFile(instanceProfile.WorkersConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load workers config %s", instanceProfile.WorkersConfig)
	}
	return registry, nil
}

func routingOptions(instanceProfile *profile.Profile) routing.Options {
	opts := routing.DefaultOptions()
	opts.TimeAwareRouting = instanceProfile.TimeAwareRouting
	opts.LocalFirstRouting = instanceProfile.LocalFirstRouting
	opts.LocalOnlyStartHour = instanceProfile.LocalOnlyStartHour
	opts.LocalOnlyEndHour = instanceProfile.LocalOnlyEndHour
	return opts
}
