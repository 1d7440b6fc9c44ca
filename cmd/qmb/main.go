// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command qmb is the CLI for the guided Qlik load-script builder.
//
// It manages build sessions on local disk, validates requests through
// the scope guard, and records telemetry and audit records per session.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQMB/pkg/logging"
	"github.com/AleutianAI/AleutianQMB/services/builder/config"
	"github.com/AleutianAI/AleutianQMB/services/builder/guard"
	"github.com/AleutianAI/AleutianQMB/services/builder/session"
	"github.com/AleutianAI/AleutianQMB/services/builder/telemetry"
)

var (
	configPath string

	cfg       config.Config
	appLogger *logging.Logger
	store     *session.Store
	guardSvc  *guard.Guard
	trail     *telemetry.AuditTrail
)

var rootCmd = &cobra.Command{
	Use:           "qmb",
	Short:         "Guided builder for Qlik data-integration load scripts",
	Long:          `qmb walks a load script through six approval-gated stages (connection, tables, fields, calendar, review, export), keeping every session resumable on local disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		dataDir := cfg.ExpandedDataDir()
		appLogger = logging.New(logging.Config{
			Level:   cfg.LoggingLevel(),
			LogDir:  filepath.Join(dataDir, "logs"),
			Service: "qmb",
		})

		store, err = session.NewStore(dataDir)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}

		guardSvc = guard.New(guard.WithLimits(cfg.Guard.Limits()))
		if len(cfg.Guard.ExtraBlockedPatterns) > 0 {
			patterns := append(guard.DefaultBlockedPatterns(), cfg.Guard.ExtraBlockedPatterns...)
			if err := guardSvc.UpdateBlockedPatterns(patterns); err != nil {
				return fmt.Errorf("apply blocked patterns: %w", err)
			}
		}

		trail, err = telemetry.NewAuditTrail(filepath.Join(dataDir, "audit"))
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	defaultConfig := "qmb.yaml"
	if home, err := os.UserHomeDir(); err == nil {
		defaultConfig = filepath.Join(home, ".qmb", "qmb.yaml")
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to the qmb config file")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(buildCmd)
}

// sessionLogger builds the per-session telemetry logger for a session.
func sessionLogger(sessionID, userID string) *telemetry.SessionLogger {
	return telemetry.NewSessionLogger(
		filepath.Join(cfg.ExpandedDataDir(), "logs"),
		sessionID,
		userID,
		telemetry.WithFlushThreshold(cfg.Telemetry.FlushThreshold),
	)
}
