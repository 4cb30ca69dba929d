package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vigil/internal/alert"
	"vigil/internal/analyzer"
	"vigil/internal/api"
	"vigil/internal/config"
	"vigil/internal/frame"
	"vigil/internal/fusion"
	"vigil/internal/hub"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/storage"
	"vigil/internal/window"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML configuration file")
		addrF   = flag.String("addr", "", "Listen address (overrides config)")
		debugF  = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addrF != "" {
		cfg.Server.Addr = *addrF
	}

	logger, err := newLogger(cfg.Server.LogLevel, *debugF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.Open(cfg.Storage.Path, logger.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	fusionCfg, err := cfg.FusionConfig()
	if err != nil {
		return err
	}

	m := metrics.New()
	alertHub := hub.New(logger.Named("hub"))
	defer alertHub.Close()

	spatial, temporal := buildAnalyzers(cfg, logger)
	logger.Info("analyzers configured",
		zap.String("spatial", spatial.Name()),
		zap.String("temporal", temporal.Name()))

	windows := window.NewRegistry(cfg.Pipeline.WindowCapacity,
		cfg.Pipeline.WindowIdleTimeout.Std(), logger.Named("window"))
	gcStop := make(chan struct{})
	windows.StartGC(time.Minute, gcStop)
	defer close(gcStop)

	store.StartRetention(time.Hour, cfg.Storage.Retention.Std(), gcStop)

	dispatcher := alert.NewDispatcher(store, alertHub, alert.DispatcherConfig{
		EvidenceDir:             cfg.Storage.EvidenceDir,
		PublishOnStorageFailure: cfg.Alerts.PublishOnStorageFailure,
	}, logger.Named("dispatch"))

	pipe := pipeline.New(pipeline.Options{
		Normalizer: frame.NewNormalizer(frame.NormalizerConfig{
			MaxDimension: cfg.Pipeline.MaxFrameDimension,
			MinWidth:     cfg.Pipeline.MinFrameWidth,
			MinHeight:    cfg.Pipeline.MinFrameHeight,
			JPEGQuality:  85,
		}, logger.Named("frame")),
		Windows:         windows,
		Spatial:         spatial,
		Temporal:        temporal,
		Engine:          fusion.NewEngine(fusionCfg),
		Dedup:           alert.NewDeduplicator(cfg.Alerts.Cooldown.Std(), logger.Named("dedup")),
		Dispatcher:      dispatcher,
		AnalyzerTimeout: cfg.Pipeline.AnalyzerTimeout.Std(),
		Metrics:         m,
		Logger:          logger.Named("pipeline"),
	})

	app := &api.App{
		Pipeline:    pipe,
		Store:       store,
		Hub:         alertHub,
		Logger:      logger.Named("api"),
		EvidenceDir: cfg.Storage.EvidenceDir,
	}
	router := api.NewRouter(app, hub.NewHandler(alertHub, logger.Named("ws")), m.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-sigc:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildAnalyzers selects the inference backends: HTTP services when
// endpoints are configured, deterministic stubs otherwise. Either stream
// can be stubbed independently.
func buildAnalyzers(cfg *config.Config, logger *zap.Logger) (analyzer.Spatial, analyzer.Temporal) {
	var spatial analyzer.Spatial = analyzer.NewStubSpatial()
	var temporal analyzer.Temporal = analyzer.NewStubTemporal()

	if cfg.Analyzers.UseStub {
		return spatial, temporal
	}
	if ep := cfg.Analyzers.Spatial.Endpoint; ep != "" {
		spatial = analyzer.NewHTTPSpatial(analyzer.HTTPSpatialConfig{
			Endpoint: ep,
			Timeout:  cfg.Analyzers.Spatial.Timeout.Std(),
		}, logger.Named("spatial"))
	}
	if ep := cfg.Analyzers.Temporal.Endpoint; ep != "" {
		temporal = analyzer.NewHTTPTemporal(analyzer.HTTPTemporalConfig{
			Endpoint: ep,
			Timeout:  cfg.Analyzers.Temporal.Timeout.Std(),
		}, logger.Named("temporal"))
	}
	return spatial, temporal
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	zcfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return zcfg.Build()
}
