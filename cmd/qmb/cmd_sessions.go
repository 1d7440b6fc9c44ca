// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQMB/services/builder/session"
	"github.com/AleutianAI/AleutianQMB/services/builder/telemetry"
)

var (
	sessionUser    string
	sessionProject string
	sessionModel   string
	scriptFile     string
	cleanupDays    int

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage build sessions",
		Long:  `Create, inspect, advance, and clean up load-script build sessions stored on local disk.`,
	}
	sessionNewCmd = &cobra.Command{
		Use:   "new",
		Short: "Create a new build session",
		RunE:  runSessionNew,
	}
	sessionListCmd = &cobra.Command{
		Use:   "list",
		Short: "List active build sessions, most recently updated first",
		RunE:  runSessionList,
	}
	sessionShowCmd = &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionShow,
	}
	sessionAdvanceCmd = &cobra.Command{
		Use:   "advance [session-id] [stage]",
		Short: "Advance a session to the next stage",
		Long:  `Advances the session pointer. The target must be the immediate successor of the current stage; skipping stages is rejected.`,
		Args:  cobra.ExactArgs(2),
		RunE:  runSessionAdvance,
	}
	sessionApproveCmd = &cobra.Command{
		Use:   "approve [session-id] [stage]",
		Short: "Record stage approval and its script fragment",
		Args:  cobra.ExactArgs(2),
		RunE:  runSessionApprove,
	}
	sessionRevertCmd = &cobra.Command{
		Use:   "revert [session-id] [stage]",
		Short: "Move a session back to an earlier stage, discarding later work",
		Args:  cobra.ExactArgs(2),
		RunE:  runSessionRevert,
	}
	sessionArchiveCmd = &cobra.Command{
		Use:   "archive [session-id]",
		Short: "Move a session from the active set to the archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionArchive,
	}
	sessionDeleteCmd = &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a session and its backup",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionDelete,
	}
	sessionCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete active sessions older than the retention horizon",
		RunE:  runSessionCleanup,
	}
	sessionExportCmd = &cobra.Command{
		Use:   "export [session-id]",
		Short: "Assemble and print the approved script fragments in stage order",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionExport,
	}
)

func init() {
	sessionNewCmd.Flags().StringVar(&sessionProject, "project", "", "project name for the session")
	sessionNewCmd.Flags().StringVar(&sessionUser, "user", "", "user id owning the session")
	sessionNewCmd.Flags().StringVar(&sessionModel, "model", "", "data model type (star_schema, single_table, link_table)")
	_ = sessionNewCmd.MarkFlagRequired("project")

	sessionListCmd.Flags().StringVar(&sessionUser, "user", "", "only list sessions for this user")
	sessionApproveCmd.Flags().StringVar(&scriptFile, "script-file", "", "file holding the approved script fragment (stdin if omitted)")
	sessionCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention horizon in days (defaults to config session.max_age_days)")

	sessionCmd.AddCommand(
		sessionNewCmd,
		sessionListCmd,
		sessionShowCmd,
		sessionAdvanceCmd,
		sessionApproveCmd,
		sessionRevertCmd,
		sessionArchiveCmd,
		sessionDeleteCmd,
		sessionCleanupCmd,
		sessionExportCmd,
	)
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	sess, err := store.CreateSession(sessionProject, sessionUser)
	if err != nil {
		return err
	}
	if sessionModel != "" {
		sess.ModelType = &sessionModel
		if err := store.SaveSession(sess); err != nil {
			return err
		}
	}

	slog := sessionLogger(sess.SessionID, sessionUser)
	slog.Info("session", "created", map[string]any{"project": sessionProject})
	if err := slog.Flush(); err != nil {
		appLogger.Warn("flush session log", "error", err.Error())
	}

	fmt.Printf("Created session %s (stage: %s)\n", sess.SessionID, sess.CurrentStage)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	summaries, err := store.ListSessions(sessionUser)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%-28s  %-20s  %-10s  %3d%%  %s\n",
			s.SessionID, s.ProjectName, s.CurrentStage, s.ProgressPercent, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSessionAdvance(cmd *cobra.Command, args []string) error {
	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	target := session.Stage(args[1])
	if err := store.AdvanceStage(sess, target); err != nil {
		return err
	}
	fmt.Printf("Session %s advanced to %s (%d%% complete)\n", sess.SessionID, sess.CurrentStage, sess.ProgressPercent())
	return nil
}

func runSessionApprove(cmd *cobra.Command, args []string) error {
	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	stage := session.Stage(args[1])

	var script []byte
	if scriptFile != "" {
		script, err = os.ReadFile(scriptFile)
	} else {
		script, err = readAllStdin(cmd)
	}
	if err != nil {
		return fmt.Errorf("read script fragment: %w", err)
	}

	if err := store.ApproveStage(sess, stage, string(script)); err != nil {
		return err
	}

	if err := trail.Record(telemetry.AuditEntry{
		SessionID:   sess.SessionID,
		UserID:      sess.UserID,
		AuditType:   telemetry.AuditTypeStageApproval,
		Action:      fmt.Sprintf("approved_%s", stage),
		ContentHash: telemetry.HashScript(string(script)),
	}); err != nil {
		return fmt.Errorf("record approval audit: %w", err)
	}

	fmt.Printf("Stage %s approved for session %s (%d%% complete)\n", stage, sess.SessionID, sess.ProgressPercent())
	return nil
}

func runSessionRevert(cmd *cobra.Command, args []string) error {
	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	target := session.Stage(args[1])
	if err := store.RevertToStage(sess, target); err != nil {
		return err
	}

	if err := trail.Record(telemetry.AuditEntry{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		AuditType: telemetry.AuditTypeSessionEvent,
		Action:    fmt.Sprintf("reverted_to_%s", target),
	}); err != nil {
		return fmt.Errorf("record revert audit: %w", err)
	}

	fmt.Printf("Session %s reverted to %s\n", sess.SessionID, sess.CurrentStage)
	return nil
}

func runSessionArchive(cmd *cobra.Command, args []string) error {
	if err := store.ArchiveSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s archived\n", args[0])
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	existed, err := store.DeleteSession(args[0])
	if err != nil {
		return err
	}
	if !existed {
		fmt.Printf("Session %s not found (nothing deleted)\n", args[0])
		return nil
	}
	fmt.Printf("Session %s deleted\n", args[0])
	return nil
}

func runSessionCleanup(cmd *cobra.Command, args []string) error {
	days := cleanupDays
	if days <= 0 {
		days = cfg.Session.MaxAgeDays
	}
	if days <= 0 {
		return fmt.Errorf("no retention horizon: pass --days or set session.max_age_days")
	}
	removed, err := store.CleanupOldSessions(days)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d session(s) older than %d day(s)\n", removed, days)
	return nil
}

func runSessionExport(cmd *cobra.Command, args []string) error {
	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	if len(sess.ApprovedScriptParts) == 0 {
		return fmt.Errorf("session %s has no approved script fragments", sess.SessionID)
	}

	var parts []string
	for _, stage := range session.Stages() {
		if part, ok := sess.ApprovedScriptParts[stage]; ok {
			parts = append(parts, strings.TrimRight(part, "\n"))
		}
	}
	script := strings.Join(parts, "\n\n") + "\n"

	if err := trail.Record(telemetry.AuditEntry{
		SessionID:   sess.SessionID,
		UserID:      sess.UserID,
		AuditType:   telemetry.AuditTypeScriptExport,
		Action:      "script_exported",
		ContentHash: telemetry.HashScript(script),
	}); err != nil {
		return fmt.Errorf("record export audit: %w", err)
	}

	fmt.Print(script)
	return nil
}

// readAllStdin drains the command's stdin.
func readAllStdin(cmd *cobra.Command) ([]byte, error) {
	return io.ReadAll(cmd.InOrStdin())
}
