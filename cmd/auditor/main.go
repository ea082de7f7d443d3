package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skycast/weather-app/internal/audit"
)

func main() {
	log.Println("Starting Skycast audit consumer...")

	config := audit.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		config.URL = v
	}
	config.Name = "skycast-auditor"

	client, err := audit.Connect(config)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = client.Subscribe(func(event audit.Event) {
		ts := time.Unix(event.Ts, 0).UTC().Format(time.RFC3339)
		switch event.Type {
		case "session_evicted":
			log.Printf("[auditor] %s EVICTED user=%s session=%s", ts, event.Username, event.SessionID)
		case "claim_lost":
			log.Printf("[auditor] %s CLAIM_LOST user=%s session=%s", ts, event.Username, event.SessionID)
		case "login_failed":
			log.Printf("[auditor] %s LOGIN_FAILED user=%s reason=%s", ts, event.Username, event.Reason)
		default:
			log.Printf("[auditor] %s %s user=%s session=%s reason=%s",
				ts, event.Type, event.Username, event.SessionID, event.Reason)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to auth events: %v", err)
	}

	log.Printf("Skycast audit consumer running")
	log.Printf("  nats_url: %s", config.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	client.Close()
}
