// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQMB/services/builder/config"
	"github.com/AleutianAI/AleutianQMB/services/builder/guard"
	"github.com/AleutianAI/AleutianQMB/services/builder/session"
	"github.com/AleutianAI/AleutianQMB/services/builder/telemetry"
)

var (
	buildProject string
	buildUser    string

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Run the interactive guided build loop",
		Long: `Starts (or resumes) a build session for a project and reads requests
from stdin. Every request passes through the scope guard before it acts;
stage approvals and reverts are recorded in the audit trail. Guard
policy hot-reloads when the config file changes.`,
		RunE: runBuild,
	}
)

func init() {
	buildCmd.Flags().StringVar(&buildProject, "project", "", "project name to build")
	buildCmd.Flags().StringVar(&buildUser, "user", "", "user id for quota accounting")
	_ = buildCmd.MarkFlagRequired("project")
}

func runBuild(cmd *cobra.Command, args []string) error {
	sess, err := store.FindRecentSession(buildProject)
	if err != nil {
		sess, err = store.CreateSession(buildProject, buildUser)
		if err != nil {
			return err
		}
		fmt.Printf("Started session %s\n", sess.SessionID)
	} else {
		fmt.Printf("Resumed session %s at stage %s (%d%% complete)\n",
			sess.SessionID, sess.CurrentStage, sess.ProgressPercent())
	}

	slog := sessionLogger(sess.SessionID, buildUser)
	defer func() {
		if err := slog.Flush(); err != nil {
			appLogger.Warn("flush session log", "error", err.Error())
		}
	}()
	slog.Info("build", "loop_started", map[string]any{"project": buildProject})

	// Guard policy follows the config file while the loop runs.
	watcher, err := config.NewWatcher(configPath, guardSvc, appLogger)
	if err != nil {
		appLogger.Warn("config watch unavailable", "error", err.Error())
	} else {
		defer watcher.Close()
	}

	var draft strings.Builder
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Printf("[%s] > ", sess.CurrentStage)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "exit" || line == "quit":
			fmt.Println("Session saved. Resume any time with the same --project.")
			return nil
		case strings.HasPrefix(line, "script "):
			draft.WriteString(strings.TrimPrefix(line, "script "))
			draft.WriteByte('\n')
			fmt.Printf("Added to the %s draft (%d bytes).\n", sess.CurrentStage, draft.Len())
		default:
			handleRequest(cmd, sess, slog, line, &draft)
		}
		fmt.Printf("[%s] > ", sess.CurrentStage)
	}
	return scanner.Err()
}

// handleRequest runs one request through quota and scope checks, then
// dispatches the classified intent against the session.
func handleRequest(cmd *cobra.Command, sess *session.BuildSession, slog *telemetry.SessionLogger, text string, draft *strings.Builder) {
	if buildUser != "" {
		quota := guardSvc.CheckRateLimit(buildUser)
		if !quota.Allowed {
			if quota.BlockedUntil != nil {
				fmt.Printf("Too many rejected requests; blocked until %s.\n", quota.BlockedUntil.Format("15:04:05"))
			} else {
				fmt.Printf("Request quota exhausted; window resets %s.\n", quota.ResetAt.Format("15:04:05"))
			}
			return
		}
	}

	result := guardSvc.ValidateRequest(cmd.Context(), text, &guard.StageContext{CurrentStage: string(sess.CurrentStage)})
	if buildUser != "" {
		guardSvc.RecordRequest(buildUser, result.Allowed)
	}

	if !result.Allowed {
		slog.Log(telemetry.LevelWarn, "guard", "rejected",
			map[string]any{"reason": string(result.Reason)}, string(sess.CurrentStage))
		fmt.Println(result.RejectionMessage)
		return
	}

	slog.Log(telemetry.LevelInfo, "guard", "accepted",
		map[string]any{"intent": string(result.Intent)}, string(sess.CurrentStage))

	switch result.Intent {
	case guard.IntentShowProgress:
		printProgress(sess)
	case guard.IntentApproveStage:
		approveCurrentStage(sess, slog, draft)
	case guard.IntentGoBack:
		revertOneStage(sess, slog)
	default:
		fmt.Printf("Understood as %s. Draft script lines with \"script <text>\", then approve the stage when it looks right.\n", result.Intent)
	}
}

func printProgress(sess *session.BuildSession) {
	fmt.Printf("Session %s: stage %s, %d%% complete.\n", sess.SessionID, sess.CurrentStage, sess.ProgressPercent())
	for _, stage := range session.Stages() {
		marker := " "
		if sess.IsStageCompleted(stage) {
			marker = "x"
		}
		fmt.Printf("  [%s] %s\n", marker, stage)
	}
}

func approveCurrentStage(sess *session.BuildSession, slog *telemetry.SessionLogger, draft *strings.Builder) {
	stage := sess.CurrentStage
	script := draft.String()
	if err := store.ApproveStage(sess, stage, script); err != nil {
		fmt.Printf("Could not approve %s: %v\n", stage, err)
		return
	}
	if err := trail.Record(telemetry.AuditEntry{
		SessionID:   sess.SessionID,
		UserID:      sess.UserID,
		AuditType:   telemetry.AuditTypeStageApproval,
		Action:      fmt.Sprintf("approved_%s", stage),
		ContentHash: telemetry.HashScript(script),
	}); err != nil {
		appLogger.Error("record approval audit", "error", err.Error())
	}
	draft.Reset()
	slog.Log(telemetry.LevelInfo, "session", "stage_approved", nil, string(stage))

	next, ok := stage.Next()
	if !ok {
		fmt.Printf("Stage %s approved. All stages complete; run \"qmb session export %s\".\n", stage, sess.SessionID)
		return
	}
	if err := store.AdvanceStage(sess, next); err != nil {
		fmt.Printf("Stage %s approved but could not advance: %v\n", stage, err)
		return
	}
	fmt.Printf("Stage %s approved. Now on %s (%d%% complete).\n", stage, next, sess.ProgressPercent())
}

func revertOneStage(sess *session.BuildSession, slog *telemetry.SessionLogger) {
	order := sess.CurrentStage.Order()
	if order <= 0 {
		fmt.Println("Already at the first stage.")
		return
	}
	target := session.Stages()[order-1]
	if err := store.RevertToStage(sess, target); err != nil {
		fmt.Printf("Could not revert: %v\n", err)
		return
	}
	if err := trail.Record(telemetry.AuditEntry{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		AuditType: telemetry.AuditTypeSessionEvent,
		Action:    fmt.Sprintf("reverted_to_%s", target),
	}); err != nil {
		appLogger.Error("record revert audit", "error", err.Error())
	}
	slog.Log(telemetry.LevelInfo, "session", "reverted", nil, string(target))
	fmt.Printf("Back on %s. Its earlier approval was discarded.\n", target)
}
