package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/spf13/cobra"
)

var (
	prompt      string
	breadth     int
	depth       int
	mode        string
	concurrency int
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long:  `deep-research is an autonomous agent that explores a topic by generating search queries, extracting learnings from the results, and recursing into follow-up questions with decreasing breadth and depth.`,
		Run: func(cmd *cobra.Command, args []string) {
			promptFlagChanged := cmd.Flags().Changed("prompt")

			if !promptFlagChanged {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)

				fmt.Print("What would you like to research? ")
				input, _ := reader.ReadString('\n')
				prompt = strings.TrimSpace(input)
				if prompt == "" {
					slog.Error("Research prompt cannot be empty")
					os.Exit(1)
				}

				breadth = readIntPrompt(reader, "Enter research breadth (recommended 2-10)", breadth)
				depth = readIntPrompt(reader, "Enter research depth (recommended 1-5)", depth)

				fmt.Print("Generate a long report or a specific answer? (report/answer, default report): ")
				input, _ = reader.ReadString('\n')
				input = strings.TrimSpace(strings.ToLower(input))
				if input != "" {
					mode = input
				}
			} else if prompt == "" {
				slog.Error("--prompt flag provided but empty")
				os.Exit(1)
			}

			if mode != "report" && mode != "answer" {
				slog.Error("Mode must be 'report' or 'answer'", "mode", mode)
				os.Exit(1)
			}
			if breadth < 1 || depth < 1 {
				slog.Error("Breadth and depth must be at least 1", "breadth", breadth, "depth", depth)
				os.Exit(1)
			}

			slog.Info("Starting research", "prompt", prompt, "breadth", breadth, "depth", depth, "mode", mode)

			researchCfg := research.Config{
				GoogleApiKey: cfg.GoogleApiKey,
				Model:        cfg.ReasoningModel,
				FirecrawlKey: cfg.FirecrawlKey,
				FirecrawlURL: cfg.FirecrawlURL,
				Concurrency:  concurrency,
				SearchLimit:  cfg.SearchLimit,
				ContextSize:  cfg.ContextSize,
			}

			ctx := context.Background()
			engine, err := research.NewEngine(ctx, researchCfg)
			if err != nil {
				slog.Error("Error initializing engine", "error", err)
				os.Exit(1)
			}

			engine.OnProgress = func(p research.Progress) {
				fmt.Printf("\r[depth %d/%d] [breadth %d/%d] queries %d/%d  %s",
					p.TotalDepth-p.CurrentDepth, p.TotalDepth,
					p.TotalBreadth-p.CurrentBreadth, p.TotalBreadth,
					p.CompletedQueries, p.TotalQueries,
					truncateLine(p.CurrentQuery, 60))
			}

			result, err := engine.Run(ctx, prompt, breadth, depth)
			if err != nil {
				fmt.Println()
				slog.Error("Error running research", "error", err)
				os.Exit(1)
			}
			fmt.Println()

			slog.Info("Research complete", "learnings", len(result.Learnings), "sources", len(result.Sources))

			var output, outPath string
			if mode == "answer" {
				output, err = engine.WriteAnswer(ctx, prompt, result)
				outPath = fmt.Sprintf("answer_%d.md", time.Now().Unix())
			} else {
				output, err = engine.WriteReport(ctx, prompt, result)
				outPath = fmt.Sprintf("report_%d.md", time.Now().Unix())
			}
			if err != nil {
				slog.Error("Error writing output", "error", err)
				os.Exit(1)
			}

			if err := os.WriteFile(outPath, []byte(output), 0644); err != nil {
				slog.Error("Failed to write output file", "path", outPath, "error", err)
				os.Exit(1)
			}

			sourcesJSON, err := json.MarshalIndent(result.Sources, "", "  ")
			if err == nil {
				if err := os.WriteFile("sources.json", sourcesJSON, 0644); err != nil {
					slog.Warn("Failed to write sources.json", "error", err)
				}
			}

			slog.Info("Output written", "path", outPath)
		},
	}

	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "The research prompt")
	rootCmd.Flags().IntVarP(&breadth, "breadth", "b", cfg.DefaultBreadth, "Number of parallel search queries per level")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", cfg.DefaultDepth, "Number of recursion levels")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "report", "Output mode: report or answer")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", cfg.Concurrency, "Number of queries researched in parallel")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func readIntPrompt(reader *bufio.Reader, label string, def int) int {
	fmt.Printf("%s (default %d): ", label, def)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 {
		slog.Warn("Invalid number, using default", "input", input, "default", def)
		return def
	}
	return n
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
