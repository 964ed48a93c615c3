package main

import (
	"flag"
	"fmt"
	"os"

	"AgentLens/internal/app"
	"AgentLens/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "agentlens.toml", "Path to TOML config file")

	apiURL := flag.String("api-url", "", "Base URL of the analysis API (overrides config)")
	streamURL := flag.String("stream-url", "", "WebSocket origin for progress telemetry (overrides config)")
	dbPath := flag.String("db", "", "Path to the client state database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	if *streamURL != "" {
		cfg.StreamBaseURL = *streamURL
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debug {
		cfg.Debug = true
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
