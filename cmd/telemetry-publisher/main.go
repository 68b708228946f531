package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nas-panel/telemetry-publisher/internal/broker"
	"github.com/nas-panel/telemetry-publisher/internal/config"
	"github.com/nas-panel/telemetry-publisher/internal/event"
	"github.com/nas-panel/telemetry-publisher/internal/externalclient"
	"github.com/nas-panel/telemetry-publisher/internal/history"
	"github.com/nas-panel/telemetry-publisher/internal/logger"
	"github.com/nas-panel/telemetry-publisher/internal/probe"
	"github.com/nas-panel/telemetry-publisher/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	generateConfigPath := flag.String("generate-config", "", "write a default configuration file to PATH and exit")
	test := flag.Bool("test", false, "perform a single collection cycle, print the payload, and exit")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	if *generateConfigPath != "" {
		if err := config.WriteConfig(*generateConfigPath, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "generate config: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	loggerShutdown := logger.Init(*verbose)
	logger.Debug("telemetry publisher initializing")

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		logger.FatalF("error reading config: %v", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg)

	if *test {
		runTest(registry, cfg)
		os.Exit(0)
	}

	cleaner := event.NewCleaner()
	cleaner.Init(loggerShutdown)

	var hist *history.Store
	if cfg.History.Enabled {
		hist = history.New(cfg.History.Capacity, secondsToDuration(cfg.History.TTLSeconds))
		if cfg.History.MongoURI != "" {
			if err := hist.ConnectMongo(cfg.History.MongoURI, "telemetry", "history"); err != nil {
				logger.WarnF("history: mongo mirror unavailable: %v", err)
			} else {
				cleaner.Add(historyCloser{hist})
			}
		}
	}

	var pub scheduler.Publisher
	switch cfg.MQTT.Type {
	case "external":
		client, err := externalclient.Connect(cfg.MQTT)
		if err != nil {
			logger.FatalF("error connecting external mqtt client: %v", err)
			os.Exit(1)
		}
		cleaner.Add(externalClientCloser{client})
		pub = client

	default: // "builtin"
		b := broker.New()
		cleaner.Add(brokerCloser{b})
		go func() {
			if err := b.ListenAndServe(cfg.MQTT.Port); err != nil {
				logger.FatalF("broker listen error: %v", err)
				os.Exit(1)
			}
		}()
		pub = b
	}

	interval := secondsToDuration(cfg.Collection.IntervalSeconds)
	sched := scheduler.New(registry, pub, hist, interval, cfg.MQTT.Topic, cfg.MQTT.QoS, cfg.Server.Hostname, cfg.Server.IP)

	logger.InfoF("telemetry publisher running, tick every %s, publishing to %s", interval, cfg.MQTT.Topic)
	sched.Run(context.Background())
}

func runTest(registry *probe.Registry, cfg config.Config) {
	sched := scheduler.New(registry, noopPublisher{}, nil, secondsToDuration(cfg.Collection.IntervalSeconds), cfg.MQTT.Topic, cfg.MQTT.QoS, cfg.Server.Hostname, cfg.Server.IP)
	data, err := sched.RunOnce()
	if err != nil {
		fmt.Fprintf(os.Stderr, "test collection failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func buildRegistry(cfg config.Config) *probe.Registry {
	var custom []probe.CustomProbe
	for _, cc := range cfg.CustomCollectors {
		p, err := probe.NewCustomProbe(cc)
		if err != nil {
			logger.WarnF("skipping custom collector %q: %v", cc.Name, err)
			continue
		}
		custom = append(custom, p)
	}

	return probe.New(
		probe.NewCPUProbe(),
		probe.NewMemoryProbe(),
		probe.NewStorageProbe("/", []string{"root"}),
		probe.NewNetworkProbe("eth0"),
		custom,
	)
}

type noopPublisher struct{}

func (noopPublisher) Publish(topic string, payload []byte, qos byte, retain bool) error { return nil }
