// Vajra MCP Server - Exposes procurement risk analysis as MCP tools for LLMs
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/vajraai/vajra/internal/mcpserver"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("VAJRA_API_URL", "http://localhost:8080"),
		APIKey: os.Getenv("VAJRA_API_KEY"),
	}
	if raw := os.Getenv("VAJRA_API_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid VAJRA_API_TIMEOUT: %v\n", err)
			os.Exit(1)
		}
		cfg.Timeout = d
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
