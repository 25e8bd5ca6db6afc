package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/trips-backend-go/internal/api"
	"github.com/jengzang/trips-backend-go/internal/config"
	"github.com/jengzang/trips-backend-go/internal/database"
	"github.com/jengzang/trips-backend-go/internal/logger"
	"github.com/jengzang/trips-backend-go/internal/metrics"
	"github.com/jengzang/trips-backend-go/internal/repository"
	"github.com/jengzang/trips-backend-go/internal/service"
	"github.com/jengzang/trips-backend-go/internal/track"
	"github.com/jengzang/trips-backend-go/internal/trip"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "trips-backend:", err)
		os.Exit(1)
	}
}

func run() error {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, zap.String("service", "trips-backend"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.Open(database.Config{Path: cfg.DBPath}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.NewMigrationManager(db, log).RunMigrations(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo := repository.NewTripRepository(db)

	var sink trip.SummarySink
	var buffer *trip.SummaryBuffer
	if cfg.Trip.SummaryFlushInterval > 0 {
		buffer = trip.NewSummaryBuffer(repo, cfg.Trip.SummaryFlushInterval, m, log.Named("summaries"))
		sink = buffer
	}

	agg := trip.NewAggregator(repo, sink, trip.Options{
		AccuracyThreshold: cfg.Trip.AccuracyThreshold,
		SpeedConversion:   cfg.Trip.SpeedConversion,
		MaxPlausibleSpeed: cfg.Trip.MaxPlausibleSpeed,
		Now:               time.Now,
	}, m, log.Named("trip"))

	tracks := track.NewBuilder(repo, cfg.Track.CacheTTL, log.Named("track"))
	recorder := service.NewRecorderService(agg, repo, tracks, cfg.Trip.RecomputeOnResume, m, log.Named("recorder"))

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           api.SetupRouter(cfg, recorder, reg, log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// 启动服务器
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", cfg.Port), zap.Bool("auth", cfg.AuthOn))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if buffer != nil {
		g.Go(func() error {
			return buffer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := recorder.CloseAll(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}
