package main

import (
	"flag"
	"log"

	"github.com/vladimirruppel/retroim/internal/client"
	"github.com/vladimirruppel/retroim/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	addr := flag.String("addr", "", "server address (overrides the config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	if err := client.RunClient(cfg); err != nil {
		log.Fatalf("Client exited with error: %v", err)
	}
}
