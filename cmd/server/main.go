package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/vladimirruppel/retroim/internal/config"
	"github.com/vladimirruppel/retroim/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conversations, err := server.NewConversationStore(cfg.HistoryDir)
	if err != nil {
		log.Fatalf("Failed to open the conversation store: %v", err)
	}
	buddies, err := server.NewBuddyStore(cfg.BuddyDir)
	if err != nil {
		log.Fatalf("Failed to open the buddy store: %v", err)
	}

	srv := server.NewServer(server.NewAuthStore(), server.NewPresenceStore(), conversations, buddies)
	go srv.Run()

	router := server.NewRouter(srv)
	log.Printf("Server starting on %s", cfg.ServerAddr)
	if err := http.ListenAndServe(cfg.ServerAddr, router); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}
