package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/assistant"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	// Database Connection
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	researchCfg := research.Config{
		GoogleApiKey: cfg.GoogleApiKey,
		Model:        cfg.ReasoningModel,
		FirecrawlKey: cfg.FirecrawlKey,
		FirecrawlURL: cfg.FirecrawlURL,
		Concurrency:  cfg.Concurrency,
		SearchLimit:  cfg.SearchLimit,
		ContextSize:  cfg.ContextSize,
	}

	// Learnings archive (embeddings + pgvector)
	embedder, err := archive.NewEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		log.Fatalf("Failed to init embedder: %v", err)
	}
	arch := archive.New(db, embedder)

	// Assistant over the archive
	assistantSvc, err := assistant.NewService(ctx, db, arch, cfg)
	if err != nil {
		log.Fatalf("Failed to init assistant service: %v", err)
	}
	tools := assistant.NewLearningsToolset(arch)

	svc := server.NewService(db, researchCfg, arch, cfg.DefaultBreadth, cfg.DefaultDepth)
	handler := server.NewHandler(svc, assistantSvc, tools)

	// Web Server Setup
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all for dev
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	handler.RegisterRoutes(r)

	fmt.Printf("Server starting on port %s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
