package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osmedit/osmedit/pkg/client"
	"github.com/osmedit/osmedit/pkg/config"
	"github.com/osmedit/osmedit/pkg/fetch"
	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/ledger"
	"github.com/osmedit/osmedit/pkg/monitoring"
	"github.com/osmedit/osmedit/pkg/osm"
	"github.com/osmedit/osmedit/pkg/render"
	"github.com/osmedit/osmedit/pkg/session"
	"github.com/osmedit/osmedit/pkg/tracing"
	ver "github.com/osmedit/osmedit/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	configPath      string
	devServer       bool

	// Load flags
	lat       float64
	lon       float64
	surround  bool
	outPath   string
	tapRadius float64
	ingestURL string

	// Auth flags
	login    bool
	authCode string
	showUser bool

	// Upload flags
	upload  bool
	comment string

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&configPath, "config", "", "Path to the TOML config file")
	flag.BoolVar(&devServer, "dev", false, "Use the sandbox API server")

	// Load flags
	flag.Float64Var(&lat, "lat", 0, "Latitude of the load center")
	flag.Float64Var(&lon, "lon", 0, "Longitude of the load center")
	flag.BoolVar(&surround, "surround", false, "Prefetch the surrounding tiles after loading")
	flag.StringVar(&outPath, "out", "map.geojson", "Path the rendered GeoJSON is written to")
	flag.Float64Var(&tapRadius, "tap", 0, "Hit-test radius in degrees; lists objects at the load center")
	flag.StringVar(&ingestURL, "ingest", "", "Index an OSM XML document from this URL before loading")

	// Auth flags
	flag.BoolVar(&login, "login", false, "Print the OAuth authorization URL and exit")
	flag.StringVar(&authCode, "auth-code", "", "Redeem an OAuth authorization code")
	flag.BoolVar(&showUser, "user", false, "Show the authorized user and exit")

	// Upload flags
	flag.BoolVar(&upload, "upload", false, "Upload all pending edits in one changeset")
	flag.StringVar(&comment, "comment", "", "Changeset comment for -upload")

	// Monitoring flags
	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&monitoringAddr, "monitoring-addr", "", "Monitoring server address (overrides config)")
}

func main() {
	flag.Parse()

	var logLevel slog.Level
	if debug {
		logLevel = slog.LevelDebug
	} else {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if showVersionFlag {
		showVersion()
		return
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.InitTracing(ctx, ver.Version)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		// Continue without tracing - it's not critical
	} else {
		defer func() {
			if err := shutdownTracing(ctx); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if devServer {
		cfg.Server.Dev = true
	}
	if monitoringAddr != "" {
		cfg.Server.MetricsAddr = monitoringAddr
	}
	if err := os.MkdirAll(cfg.Data.Dir, 0o700); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.Data.Dir, "error", err)
		os.Exit(1)
	}

	baseURL, authURL, tokenURL := endpoints(cfg)

	logger.Info("starting osmedit",
		"version", ver.Version,
		"log_level", logLevel.String(),
		"server", baseURL,
		"dev", cfg.Server.Dev,
		"data_dir", cfg.Data.Dir,
		"monitoring_enabled", enableMonitoring)

	auth := client.NewAuthManager(client.AuthConfig{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURL:  cfg.Auth.RedirectURL,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
	}, cfg.TokenPath(), logger)

	api := client.New(baseURL,
		client.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		client.WithTokenProvider(auth))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Auth actions need no ledger or pipeline.
	switch {
	case login:
		fmt.Println(auth.AuthCodeURL("osmedit"))
		return
	case authCode != "":
		if err := auth.Exchange(ctx, authCode); err != nil {
			logger.Error("authorization failed", "error", err)
			os.Exit(1)
		}
		logger.Info("authorization complete", "token_path", cfg.TokenPath())
		return
	case showUser:
		info, err := api.UserDetails(ctx)
		if err != nil {
			logger.Error("failed to fetch user details", "error", err)
			os.Exit(1)
		}
		fmt.Printf("%s (id %d), since %s\n", info.DisplayName, info.ID, info.AccountAge)
		return
	}

	led, err := ledger.Open(cfg.LedgerPath(), logger)
	if err != nil {
		logger.Error("failed to open edit ledger", "error", err)
		os.Exit(1)
	}
	defer led.Close()
	if pending := led.Len(); pending > 0 {
		logger.Info("pending edits waiting for upload", "count", pending)
	}

	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.Version)
		defer healthChecker.Shutdown()

		monitoring.InstallClientHooks()
		monitoring.InstallFetchHooks()
		obsID := monitoring.ObserveLedger(led)
		defer led.Unsubscribe(obsID)

		startMonitoringServer(ctx, cfg.Server.MetricsAddr, healthChecker, logger)

		apiMonitor := monitoring.NewConnectionMonitor("osm_api", healthChecker, func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(pingCtx, http.MethodGet,
				baseURL+"/api/0.6/capabilities", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("capabilities returned %d", resp.StatusCode)
			}
			return nil
		}, time.Minute)
		apiMonitor.Start()
		defer apiMonitor.Stop()
	}

	if upload {
		uploader := client.NewUploader(api, led, logger)
		start := time.Now()
		result, err := uploader.Upload(ctx, comment)
		if enableMonitoring && err == nil {
			monitoring.RecordUpload(result.Created, result.Modified, result.Deleted, true)
		}
		if err != nil {
			if enableMonitoring {
				monitoring.RecordUpload(0, 0, 0, false)
			}
			logger.Error("upload failed", "error", err)
			os.Exit(1)
		}
		logger.Info("upload finished",
			"changeset", result.ChangesetID,
			"created", result.Created,
			"modified", result.Modified,
			"deleted", result.Deleted,
			"duration", time.Since(start))
		return
	}

	if lat == 0 && lon == 0 && ingestURL == "" {
		flag.Usage()
		os.Exit(2)
	}

	store := osm.NewStore(logger)

	var converter render.Converter
	if cfg.Converter.Command != "" {
		converter = &render.ExecConverter{
			Command: cfg.Converter.Command,
			Args:    cfg.Converter.Args,
			Logger:  logger,
		}
	}

	coordinator, err := fetch.New(api, store, led, converter,
		&render.FileRenderer{Path: outPath}, logger, fetch.Options{
			HalfSize:     cfg.Fetch.HalfSize,
			ShrinkFactor: cfg.Fetch.ShrinkFactor,
			MinSpan:      cfg.Fetch.MinSpan,
			PayloadTTL:   time.Duration(cfg.Fetch.PayloadTTL),
			ShowOutline:  cfg.Fetch.ShowOutline,
			TempDir:      cfg.Data.Dir,
		})
	if err != nil {
		logger.Error("failed to create fetch coordinator", "error", err)
		os.Exit(1)
	}
	defer coordinator.Close()

	if ingestURL != "" {
		payload, err := api.RawQuery(ctx, ingestURL)
		if err != nil {
			logger.Error("ingest download failed", "url", ingestURL, "error", err)
			os.Exit(1)
		}
		objects, err := coordinator.Ingest(ctx, bytes.NewReader(payload))
		if err != nil {
			logger.Error("ingest failed", "url", ingestURL, "error", err)
			os.Exit(1)
		}
		logger.Info("ingested", "url", ingestURL, "objects", objects)
		if lat == 0 && lon == 0 {
			return
		}
	}

	start := time.Now()
	result, err := coordinator.Load(ctx, geo.Point{Lat: lat, Lon: lon})
	if err != nil {
		if enableMonitoring {
			monitoring.RecordFetch(time.Since(start), 0, 0, false)
		}
		logger.Error("load failed", "error", err)
		os.Exit(1)
	}
	if enableMonitoring {
		monitoring.RecordFetch(time.Since(start), result.Shrinks, result.Objects, true)
	}
	if result.Skipped {
		logger.Info("center already loaded", "bbox", result.BBox.Query())
	} else {
		logger.Info("map written",
			"path", outPath,
			"objects", result.Objects,
			"features", result.Features,
			"bbox", result.BBox.Query())
	}

	if tapRadius > 0 {
		sess := session.New(store, led, logger)
		for _, obj := range sess.ObjectsAt(geo.Point{Lat: lat, Lon: lon}, tapRadius) {
			name, _ := obj.Tags.Find("name")
			fmt.Printf("%s\t%s\n", obj.Ref(), name)
		}
	}

	if surround || cfg.Fetch.Prefetch {
		coordinator.Prefetch(ctx, result.BBox)
	}
}

// endpoints resolves the API and OAuth URLs for the selected server.
func endpoints(cfg *config.Config) (baseURL, authURL, tokenURL string) {
	if cfg.Server.BaseURL != "" {
		return cfg.Server.BaseURL, client.ProductionAuthURL, client.ProductionTokenURL
	}
	if cfg.Server.Dev {
		return client.DevBaseURL, client.DevAuthURL, client.DevTokenURL
	}
	return client.ProductionBaseURL, client.ProductionAuthURL, client.ProductionTokenURL
}

func startMonitoringServer(ctx context.Context, addr string, hc *monitoring.HealthChecker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", hc.HealthHandler())
	mux.HandleFunc("/ready", hc.ReadinessHandler())
	mux.HandleFunc("/live", hc.LivenessHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		logger.Info("starting monitoring server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}()
}

func showVersion() {
	info := ver.Info()
	fmt.Printf("osmedit %s\n", info["version"])
	fmt.Printf("  commit:     %s\n", info["commit"])
	fmt.Printf("  built:      %s\n", info["build_date"])
	fmt.Printf("  go version: %s\n", info["go_version"])
}
