// Payload Core - UAV camera payload controller
//
// This is the main entry point for the Payload Core application. It owns the
// camera control engine for a Sony R10C driven over PTP/IP and exposes it to
// the flight stack through MQTT, an HTTP/WebSocket API and a capture ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/payload-core/internal/api"
	"github.com/nerrad567/payload-core/internal/audit"
	"github.com/nerrad567/payload-core/internal/bridges/mqttcam"
	"github.com/nerrad567/payload-core/internal/camera"
	"github.com/nerrad567/payload-core/internal/infrastructure/config"
	"github.com/nerrad567/payload-core/internal/infrastructure/database"
	"github.com/nerrad567/payload-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/payload-core/internal/infrastructure/logging"
	"github.com/nerrad567/payload-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/payload-core/internal/ledger"
	"github.com/nerrad567/payload-core/internal/ptpip"
	"github.com/nerrad567/payload-core/internal/simcam"
	"github.com/nerrad567/payload-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// ledgerBuffer is the engine subscription depth for the ledger recorder.
const ledgerBuffer = 128

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Payload Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Capture ledger
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	ledgerRepo := ledger.NewSQLiteRepository(db.DB, cfg.Site.ID)
	auditRepo := audit.NewSQLiteRepository(db.DB, cfg.Site.ID)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Camera
	transport, closeTransport, err := openTransport(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening camera transport: %w", err)
	}
	defer closeTransport()

	engine, err := camera.New(cameraOptions(cfg, transport, log))
	if err != nil {
		return fmt.Errorf("creating camera engine: %w", err)
	}

	// Subscribe before Run so the ledger sees the first event.
	ledgerSub := engine.Subscribe(ledgerBuffer)
	defer ledgerSub.Close()
	recorder := ledger.NewRecorder(ledgerRepo)
	recorder.SetLogger(log.Component("ledger"))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	abort := func(err error) error {
		stop()
		_ = g.Wait()
		return err
	}
	g.Go(func() error {
		if runErr := engine.Run(gctx); runErr != nil && runCtx.Err() == nil {
			return fmt.Errorf("camera engine: %w", runErr)
		}
		return nil
	})
	g.Go(func() error {
		return recorder.Run(gctx, ledgerSub.C())
	})

	if mqttClient != nil {
		bridge, bridgeErr := startBridge(gctx, cfg, engine, mqttClient, influxClient, auditRepo, log)
		if bridgeErr != nil {
			return abort(bridgeErr)
		}
		defer func() {
			log.Info("stopping camera bridge")
			bridge.Stop()
		}()
	}

	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Engine:   engine,
		Ledger:   ledgerRepo,
		Audit:    auditRepo,
		DB:       db.DB,
		Version:  version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return abort(fmt.Errorf("creating API server: %w", err))
	}
	if err := apiServer.Start(gctx); err != nil {
		return abort(fmt.Errorf("starting API server: %w", err))
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()
	if ctx.Err() != nil {
		log.Info("shutdown signal received, cleaning up")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Payload Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PAYLOAD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PAYLOAD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// openTransport builds the device link selected by camera.transport.
// The returned close function is always safe to call.
func openTransport(ctx context.Context, cfg *config.Config, log *logging.Logger) (camera.Transport, func(), error) {
	switch cfg.Camera.Transport {
	case config.TransportSim:
		sim := simcam.New(simcam.Config{
			SettleDelay: cfg.Camera.Sim.SettleDelay,
			FocusDelay:  cfg.Camera.Sim.FocusDelay,
			CardFiles:   cfg.Camera.Sim.CardFiles,
		})
		log.Info("using simulated camera")
		return sim, func() {}, nil

	case config.TransportPTPIP:
		address := cfg.Camera.Address
		if address == "" && cfg.Camera.Discovery.Enabled {
			found, err := discoverCamera(ctx, cfg.Camera.Discovery, log)
			if err != nil {
				return nil, func() {}, err
			}
			address = found
		}

		client, err := ptpip.NewClient(ptpip.Config{
			Address:           address,
			Name:              cfg.Camera.ClientName,
			ConnectTimeout:    cfg.Camera.ConnectTimeout,
			ReadTimeout:       cfg.Camera.TransactionTimeout,
			ReconnectInterval: cfg.Camera.ReconnectInterval,
		})
		if err != nil {
			return nil, func() {}, err
		}
		client.SetLogger(log.Component("ptpip"))
		log.Info("using PTP/IP camera", "address", address)
		return client, func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing PTP/IP client", "error", closeErr)
			}
		}, nil

	default:
		return nil, func() {}, fmt.Errorf("unknown camera transport %q", cfg.Camera.Transport)
	}
}

// discoverCamera browses mDNS for a PTP/IP responder and returns the first address.
func discoverCamera(ctx context.Context, dcfg config.CameraDiscoveryConfig, log *logging.Logger) (string, error) {
	log.Info("discovering camera", "interface", dcfg.Interface, "timeout", dcfg.Timeout)
	responders, err := ptpip.Discover(ctx, dcfg.Timeout, dcfg.Interface)
	if err != nil {
		return "", fmt.Errorf("discovering camera: %w", err)
	}
	if len(responders) == 0 {
		return "", fmt.Errorf("no PTP/IP responder found within %s", dcfg.Timeout)
	}
	r := responders[0]
	log.Info("camera discovered", "instance", r.Instance, "address", r.Address(), "responders", len(responders))
	return r.Address(), nil
}

func cameraOptions(cfg *config.Config, transport camera.Transport, log *logging.Logger) camera.Options {
	c := cfg.Camera
	return camera.Options{
		Transport:           transport,
		Logger:              log.Component("camera"),
		TransactionTimeout:  c.TransactionTimeout,
		ConnectTimeout:      c.ConnectTimeout,
		EventPollTimeout:    c.EventPollTimeout,
		ConfirmationTimeout: c.ConfirmationTimeout,
		FocusTimeout:        c.FocusTimeout,
		DownloadPollMin:     c.DownloadPollMin,
		DownloadPollMax:     c.DownloadPollMax,
		QueueSize:           c.QueueSize,
		MinFocalLength:      c.MinFocalLength,
		ZoomSettle:          c.ZoomSettle,
	}
}

// startBridge creates and starts the MQTT camera bridge.
func startBridge(ctx context.Context, cfg *config.Config, engine *camera.Engine, mqttClient *mqtt.Client, influxClient *influxdb.Client, trail *audit.SQLiteRepository, log *logging.Logger) (*mqttcam.Bridge, error) {
	opts := mqttcam.Options{
		Engine:         engine,
		MQTT:           &mqttBridgeAdapter{client: mqttClient},
		Audit:          trail,
		Logger:         log.Component("mqttcam"),
		Version:        version,
		HealthInterval: cfg.MQTT.HealthInterval,
		PublishImages:  cfg.MQTT.PublishImages,
		QoS:            byte(cfg.MQTT.QoS),
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := mqttcam.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating camera bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting camera bridge: %w", err)
	}
	log.Info("camera bridge started")
	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Bridge handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
