// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command loom runs the workflow execution engine.
//
// # Environment Variables
//
//   - LLM_API_KEY: API key for the generative backend (required by serve)
//   - LLM_API_BASE: Override the backend base URL (optional)
//   - LLM_MODEL: Default model name (optional)
//
// # Usage
//
//	# Build
//	go build -o loom ./cmd/loom
//
//	# Run with the default config (~/.loom/loom.yaml, created on first run)
//	./loom serve
//
//	# Run with an explicit config file
//	./loom serve --config ./loom.yaml
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "A workflow execution engine for text-processing pipelines",
	Long: `Loom executes user-defined, graph-shaped text-processing pipelines
built from typed nodes: text extraction, generative model calls,
formatting rules and bounded autonomous agents.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
