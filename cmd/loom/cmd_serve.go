// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/services/engine"
	"github.com/loomworks/loom/services/engine/config"
)

var (
	serveConfigPath string
	servePort       int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the engine HTTP server",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the config file (default ~/.loom/loom.yaml)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured HTTP port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	svc, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
