package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/audiobridge/upnpbridge/internal/bridge"
	"github.com/audiobridge/upnpbridge/internal/bridged"
	"github.com/audiobridge/upnpbridge/internal/browse"
	"github.com/audiobridge/upnpbridge/internal/embeddedmqtt"
	"github.com/audiobridge/upnpbridge/internal/events"
	"github.com/audiobridge/upnpbridge/internal/registry"
	"github.com/audiobridge/upnpbridge/internal/ssdp"
	"github.com/audiobridge/upnpbridge/internal/upnp"
)

func main() {
	var (
		configPath  string
		listen      string
		logLevel    string
		logFormat   string
		logOutput   string
		printConfig bool
		dryRun      bool
	)

	defaultConfig, err := bridged.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&listen, "listen", "", "HTTP listen address override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := bridged.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, listen, logLevel, logFormat, logOutput)

	if printConfig {
		fmt.Fprintf(os.Stdout,
			"listen=%s log_level=%s log_format=%s search_interval_s=%d events=%t embedded_mqtt=%t\n",
			cfg.Server.Listen,
			cfg.Server.LogLevel,
			cfg.Server.LogFormat,
			cfg.Discovery.SearchIntervalS,
			cfg.Events.Enabled,
			cfg.EmbeddedMQTT.Enabled,
		)
		return
	}
	if dryRun {
		return
	}

	logger := bridged.NewLogger(bridged.LogConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cfg.Server.LogOutput,
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("upnpbridged starting",
		zap.String("listen", cfg.Server.Listen),
		zap.Int64("search_interval_s", cfg.Discovery.SearchIntervalS),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("embedded_mqtt", cfg.EmbeddedMQTT.Enabled),
	)

	modules, err := buildModules(cfg, logger)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := bridged.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *bridged.Config, listen string, logLevel string, logFormat string, logOutput string) {
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Server.LogOutput = logOutput
	}
}

func buildModules(cfg bridged.Config, logger *zap.Logger) ([]bridged.ModuleRunner, error) {
	reg := registry.New(logger.With(zap.String("module", "registry")), nil)
	fetcher := upnp.NewDescriptionFetcher(logger.With(zap.String("module", "fetcher")))
	soap := upnp.NewSOAPClient(logger.With(zap.String("module", "soap")))
	browser := browse.New(logger.With(zap.String("module", "browse")), soap, cfg.Browse.CandidatePaths)

	listener := ssdp.New(
		logger.With(zap.String("module", "ssdp")),
		reg,
		fetcher,
		time.Duration(cfg.Discovery.SearchIntervalS)*time.Second,
	)

	server := bridge.New(
		logger.With(zap.String("module", "bridge")),
		cfg.Server.Listen,
		reg,
		browser,
		listener,
		soap,
	)

	modules := []bridged.ModuleRunner{
		{Name: "ssdp", Run: listener.Run},
		{Name: "registry_sweep", Run: reg.Run},
		{Name: "bridge_api", Run: server.Run},
	}

	if cfg.EmbeddedMQTT.Enabled {
		broker, err := embeddedmqtt.New(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
			Listen:         cfg.EmbeddedMQTT.Listen,
			AllowAnonymous: cfg.EmbeddedMQTT.AllowAnonymous,
			Username:       cfg.EmbeddedMQTT.Username,
			Password:       cfg.EmbeddedMQTT.Password,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, bridged.ModuleRunner{Name: "embedded_mqtt", Run: broker.Run})
		if cfg.Events.Enabled && cfg.Events.Broker == "" {
			cfg.Events.Broker = embeddedmqtt.BrokerURL(cfg.EmbeddedMQTT.Listen)
		}
	}

	if cfg.Events.Enabled {
		if cfg.Events.Broker == "" {
			return nil, fmt.Errorf("events enabled but no broker configured")
		}
		publisher, err := events.New(logger.With(zap.String("module", "events")), reg, events.Options{
			BrokerURL: cfg.Events.Broker,
			ClientID:  cfg.Events.ClientID,
			Username:  cfg.Events.Username,
			Password:  cfg.Events.Password,
			TLSCA:     cfg.Events.TLSCA,
			TLSCert:   cfg.Events.TLSCert,
			TLSKey:    cfg.Events.TLSKey,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, bridged.ModuleRunner{Name: "events", Run: publisher.Run})
	}

	return modules, nil
}
