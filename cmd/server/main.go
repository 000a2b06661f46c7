package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/parkqr/internal/config"
	"github.com/iliyamo/parkqr/internal/database"
	"github.com/iliyamo/parkqr/internal/handler"
	"github.com/iliyamo/parkqr/internal/metrics"
	"github.com/iliyamo/parkqr/internal/middleware"
	"github.com/iliyamo/parkqr/internal/model"
	"github.com/iliyamo/parkqr/internal/queue"
	"github.com/iliyamo/parkqr/internal/render"
	"github.com/iliyamo/parkqr/internal/repository"
	"github.com/iliyamo/parkqr/internal/router"
	"github.com/iliyamo/parkqr/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		Driver:     database.Dialect(cfg.DBDriver),
		User:       cfg.DBUser,
		Pass:       cfg.DBPass,
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		Name:       cfg.DBName,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		logger.Error("open ticket store", "driver", cfg.DBDriver, "err", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := repository.NewTicketRepo(db)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", "err", err)
		os.Exit(1)
	}

	collector := metrics.New(prometheus.DefaultRegisterer)

	opts := service.Options{
		Store:    repo,
		Renderer: render.New(loc),
		Observer: collector,
		Rates: service.Rates{
			model.VehicleCar:        cfg.CarRate,
			model.VehicleMotorcycle: cfg.MotorcycleRate,
			model.VehicleBicycle:    cfg.BicycleRate,
		},
		BaseURL:      cfg.FrontendURL,
		Location:     loc,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.AMQPURL)
		defer pub.Close()
		opts.Events = pub
		logger.Info("publishing ticket events", "queue", queue.TicketQueueName)
	}
	svc, err := service.NewParkingService(opts)
	if err != nil {
		logger.Error("build parking service", "err", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(collector.Middleware())
	e.Use(requestLogger(logger))

	rlCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		logger.Error("load rate limit config", "err", err)
		os.Exit(1)
	}
	redisCfg, err := config.LoadRedisConfig()
	if err != nil {
		logger.Error("load redis config", "err", err)
		os.Exit(1)
	}
	rdb, err := config.NewRedisClient(ctx, redisCfg)
	if err != nil {
		logger.Warn("redis unavailable; rate limiting disabled", "err", err)
	} else {
		defer rdb.Close()
	}
	limiter := middleware.NewTokenBucket(rlCfg, rdb)

	parking := handler.NewParkingHandler(svc)
	router.RegisterRoutes(e, &handler.HealthHandler{Store: svc, Env: cfg.Env, Started: time.Now()}, promhttp.Handler())
	router.RegisterParking(e, parking, limiter)
	router.RegisterOperator(e, parking, cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// requestLogger sends Echo access logs through slog.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("request", append(attrs, "err", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	})
}
