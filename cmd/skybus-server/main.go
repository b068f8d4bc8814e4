// Package main is the entry point for the skybus server: it hosts the bus,
// the built-in simulator devices and the network adapters.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/openastro/skybus/internal/adapters/mqttbridge"
	"github.com/openastro/skybus/internal/adapters/tcpjson"
	"github.com/openastro/skybus/internal/blobserver"
	"github.com/openastro/skybus/internal/config"
	"github.com/openastro/skybus/internal/drivers/simulator"
	"github.com/openastro/skybus/internal/hotplug"
	"github.com/openastro/skybus/internal/logging"
	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/discovery"
	"github.com/openastro/skybus/pkg/health"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := logging.New(cfg.LogLevel(), cfg.Log.UseSyslog)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting skybus server")

	b := bus.New(bus.Options{
		MaxDevices:    cfg.Bus.MaxDevices,
		MaxClients:    cfg.Bus.MaxClients,
		StrictLocking: cfg.Bus.StrictLocking,
		Proxy:         cfg.Bus.BlobProxy,
		TimerWorkers:  cfg.Bus.TimerWorkers,
		Logger:        logger,
	})

	healthEngine := health.NewEngine(logger, 30*time.Second)
	healthEngine.Register(busChecker(b))

	plugins := hotplug.NewManager(b, logger)
	plugins.Start()
	if cfg.Simulator.Enabled {
		plugins.RegisterHandler(&simulator.HotplugHandler{Opts: simulator.Options{
			ProfileDir: cfg.Server.ConfigDir,
		}})
		for i := 0; i < cfg.Simulator.Mounts; i++ {
			plugins.Plug(simulator.MountIdentity(i))
		}
		for i := 0; i < cfg.Simulator.Cameras; i++ {
			plugins.Plug(simulator.CCDIdentity(i))
		}
	}

	tcpServer := tcpjson.NewServer(b, cfg.Server.TCPAddress, logger)
	if err := tcpServer.Start(); err != nil {
		logger.Fatal("Failed to start protocol server", zap.Error(err))
	}

	blobServer := blobserver.NewServer(b, healthEngine, cfg.Server.HTTPAddress, logger)
	if err := blobServer.Start(); err != nil {
		logger.Fatal("Failed to start BLOB server", zap.Error(err))
	}

	var responder *discovery.Responder
	if cfg.Server.DiscoveryPort > 0 {
		responder = discovery.NewResponder(cfg.Server.DiscoveryPort,
			listenPort(tcpServer.Addr()), listenPort(blobServer.Addr()), logger)
		if err := responder.Start(); err != nil {
			logger.Fatal("Failed to start discovery responder", zap.Error(err))
		}
	}

	var bridge *mqttbridge.Bridge
	var broker *mqttbridge.Client
	if cfg.MQTT.BrokerURL != "" {
		broker = mqttbridge.NewClient(mqttbridge.Config{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger)
		if err := broker.Connect(); err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		bridge = mqttbridge.NewBridge(b, broker, logger)
		if err := bridge.Start(); err != nil {
			logger.Fatal("Failed to start MQTT bridge", zap.Error(err))
		}
		healthEngine.Register(brokerChecker(broker))
	}

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	go healthEngine.Start(healthCtx)

	logger.Info("Server running",
		zap.String("tcp", tcpServer.Addr().String()),
		zap.String("http", blobServer.Addr().String()),
		zap.Int("discovery_port", cfg.Server.DiscoveryPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	cancelHealth()
	healthEngine.Stop()
	if responder != nil {
		responder.Stop()
	}
	if bridge != nil {
		bridge.Stop()
		broker.Disconnect()
	}
	shutdownErr := tcpServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	shutdownErr = multierr.Append(shutdownErr, blobServer.Stop(shutdownCtx))

	plugins.Stop()
	b.Close()

	if err := shutdownErr; err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// busChecker reports the registry occupancy.
func busChecker(b *bus.Bus) health.Checker {
	return health.CheckerFunc{
		ComponentName: "bus",
		Fn: func(ctx context.Context) *health.Result {
			return &health.Result{
				Component: "bus",
				Status:    health.StatusHealthy,
				Timestamp: time.Now(),
				Details: map[string]any{
					"devices": len(b.Devices()),
					"clients": len(b.Clients()),
				},
			}
		},
	}
}

// brokerChecker degrades while the broker connection is down; paho keeps
// reconnecting in the background.
func brokerChecker(c *mqttbridge.Client) health.Checker {
	return health.CheckerFunc{
		ComponentName: "mqtt",
		Fn: func(ctx context.Context) *health.Result {
			status := health.StatusHealthy
			if !c.IsConnected() {
				status = health.StatusDegraded
			}
			return &health.Result{Component: "mqtt", Status: status, Timestamp: time.Now()}
		},
	}
}

func listenPort(addr net.Addr) int {
	if addr == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
