package main

import (
	"log"

	"github.com/artforge-ai/artforge-api/internal/config"
	pkgconfig "github.com/artforge-ai/artforge-api/pkg/config"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	// Load environment files explicitly
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	// Load configuration from YAML
	cfg, err := config.LoadFromFile("config.yaml")
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	// Create server with explicit config
	server := pkgconfig.NewServer(cfg)

	// Start the server
	log.Println("Starting ArtForge API server...")
	if err := server.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
