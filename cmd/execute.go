// Package cmd contains the CLI entry points.
//
// Design: following the pattern used by kubectl, hugo, and other
// standard Go CLI tools, all application logic is contained in the cmd
// package, leaving main.go as a minimal entry point.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the recall CLI.
// It handles flag parsing and command routing.
func Execute() error {
	// Handle special flags before full initialization so --version and
	// --help work even when the configuration is invalid.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			return runServe()
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	// Serving is the default behavior.
	return runServe()
}

// printHelp displays the help message.
func printHelp() {
	fmt.Println("recall - conversation store with semantic retrieval")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  recall              Start the HTTP API server (default)")
	fmt.Println("  recall serve        Start the HTTP API server")
	fmt.Println("  recall --version    Show version information")
	fmt.Println("  recall --help       Show this help")
	fmt.Println()
	fmt.Println("Configuration (environment, RECALL_ prefix):")
	fmt.Println("  RECALL_LISTEN_ADDR           HTTP listen address")
	fmt.Println("  RECALL_POSTGRES_HOST         PostgreSQL host")
	fmt.Println("  RECALL_POSTGRES_PASSWORD     PostgreSQL password")
	fmt.Println("  DATABASE_URL                 Full connection URL (overrides the above)")
	fmt.Println("  RECALL_EMBEDDING_PROVIDER    ollama or openai")
	fmt.Println("  RECALL_OLLAMA_HOST           Ollama server URL")
	fmt.Println("  RECALL_OPENAI_API_KEY        OpenAI API key (openai provider)")
	fmt.Println("  RECALL_LOG_LEVEL             debug, info, warn or error")
}
