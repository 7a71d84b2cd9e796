package main

import (
	"context"
	"flag"
	"log"
	"os"

	"KlineHub/internal/di"
	"KlineHub/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s source=%s archive=%s", cfg.Environment, cfg.Source.Type, cfg.Archive.Backend)
	if cfg.UsesKafka() {
		log.Printf("kafka: brokers=%v trades=%s bars=%s", cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, cfg.Kafka.BarsTopic)
	}

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
