// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQMB/services/builder/guard"
)

var (
	guardStage string
	guardUser  string

	guardCmd = &cobra.Command{
		Use:   "guard",
		Short: "Inspect scope-guard decisions and quotas",
	}
	guardCheckCmd = &cobra.Command{
		Use:   "check [request text]",
		Short: "Classify a request and show the validation decision",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGuardCheck,
	}
	guardQuotaCmd = &cobra.Command{
		Use:   "quota [user-id]",
		Short: "Show a user's rate-limit standing",
		Args:  cobra.ExactArgs(1),
		RunE:  runGuardQuota,
	}
	guardClearCmd = &cobra.Command{
		Use:   "clear [user-id]",
		Short: "Reset a user's quota and failure-streak state",
		Args:  cobra.ExactArgs(1),
		RunE:  runGuardClear,
	}
)

func init() {
	guardCheckCmd.Flags().StringVar(&guardStage, "stage", "", "current build stage for stage-policy checks")
	guardCheckCmd.Flags().StringVar(&guardUser, "user", "", "user id for rate-limit accounting")
	guardCmd.AddCommand(guardCheckCmd, guardQuotaCmd, guardClearCmd)
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	if guardUser != "" {
		quota := guardSvc.CheckRateLimit(guardUser)
		if !quota.Allowed {
			if quota.BlockedUntil != nil {
				fmt.Printf("Rejected: user blocked until %s\n", quota.BlockedUntil.Format("15:04:05"))
			} else {
				fmt.Printf("Rejected: quota exhausted (resets %s)\n", quota.ResetAt.Format("15:04:05"))
			}
			return nil
		}
	}

	classification := guardSvc.ClassifyIntent(cmd.Context(), text)
	result := guardSvc.ValidateRequest(cmd.Context(), text, stageContext())

	fmt.Printf("Intent:     %s (confidence %.2f)\n", classification.Intent, classification.Confidence)
	if len(classification.KeywordsFound) > 0 {
		fmt.Printf("Keywords:   %s\n", strings.Join(classification.KeywordsFound, ", "))
	}
	if result.Allowed {
		fmt.Println("Decision:   allowed")
	} else {
		fmt.Printf("Decision:   rejected (%s)\n", result.Reason)
		fmt.Printf("Message:    %s\n", result.RejectionMessage)
	}

	if guardUser != "" {
		guardSvc.RecordRequest(guardUser, result.Allowed)
	}
	return nil
}

func runGuardQuota(cmd *cobra.Command, args []string) error {
	quota := guardSvc.CheckRateLimit(args[0])
	if quota.BlockedUntil != nil {
		fmt.Printf("User %s is blocked until %s\n", args[0], quota.BlockedUntil.Format("2006-01-02 15:04:05"))
		return nil
	}
	fmt.Printf("User %s: %d request(s) remaining, window resets %s\n",
		args[0], quota.RequestsRemaining, quota.ResetAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runGuardClear(cmd *cobra.Command, args []string) error {
	guardSvc.ClearRateLimitData(args[0])
	fmt.Printf("Cleared rate-limit state for %s\n", args[0])
	return nil
}

// stageContext converts the --stage flag to a guard stage context.
func stageContext() *guard.StageContext {
	if guardStage == "" {
		return nil
	}
	return &guard.StageContext{CurrentStage: guardStage}
}
