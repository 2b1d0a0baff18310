package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/auth"
	"github.com/Krunal96369/thinkdocs/internal/config"
)

// mktoken mints an owner bearer token for local development and
// integration testing against a running API server.
func main() {
	ownerID := flag.String("owner", "", "owner id to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *ownerID == "" {
		log.Fatal("usage: mktoken -owner <owner-id> [-ttl 24h]")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, err := auth.IssueOwnerToken(cfg.JWTSecret, *ownerID, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println(token)
}
