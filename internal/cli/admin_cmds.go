package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nubaeon/empirica/pkg/api"
)

var (
	branchSession string
	branchName    string
	branchPath    string
	branchInput   string
	branchTokens  int
	branchMinutes int
	branchBudget  int

	daemonSweepInterval     time.Duration
	daemonReconcileInterval time.Duration
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Parallel investigation branches with merge scoring",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Fork an investigation branch from the session's PREFLIGHT",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.BranchCreate(api.BranchCreateRequest{
			SessionRef:        branchSession,
			BranchName:        branchName,
			InvestigationPath: branchPath,
		})
		return emit(result, err)
	},
}

var branchCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <branch-id>",
	Short: "Record a branch's post-investigation vectors and spend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(branchInput)
		if err != nil {
			return emit(nil, err)
		}
		result, aerr := engineAPI.BranchCheckpoint(api.BranchCheckpointRequest{
			BranchID:         args[0],
			Assessment:       json.RawMessage(payload),
			TokensSpent:      branchTokens,
			TimeSpentMinutes: branchMinutes,
		})
		return emit(result, aerr)
	},
}

var branchMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Score checkpointed branches and auto-merge the winner",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.BranchMerge(api.BranchMergeRequest{
			SessionRef:  branchSession,
			TokenBudget: branchBudget,
		})
		return emit(result, err)
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations",
}

var adminForceCloseCmd = &cobra.Command{
	Use:   "force-close",
	Short: "Force-close transactions abandoned past the horizon (default 72h)",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.ForceCloseStale()
		return emit(result, err)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background drift sweeper and checkpoint reconciler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		bg := engineAPI.StartBackground(context.Background(), api.BackgroundConfig{
			DriftSweepInterval: daemonSweepInterval,
			ReconcileInterval:  daemonReconcileInterval,
		})
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		bg.Stop()
		return nil
	},
}

func init() {
	branchCreateCmd.Flags().StringVarP(&branchSession, "session", "s", "", "session id or alias")
	branchCreateCmd.Flags().StringVar(&branchName, "name", "", "branch name (required)")
	branchCreateCmd.Flags().StringVar(&branchPath, "path", "", "investigation path description (required)")
	branchCreateCmd.MarkFlagRequired("name")
	branchCreateCmd.MarkFlagRequired("path")

	branchCheckpointCmd.Flags().StringVarP(&branchInput, "input", "i", "-", "vector payload: file, inline JSON, or - for stdin")
	branchCheckpointCmd.Flags().IntVar(&branchTokens, "tokens", 0, "tokens spent")
	branchCheckpointCmd.Flags().IntVar(&branchMinutes, "minutes", 0, "minutes spent")

	branchMergeCmd.Flags().StringVarP(&branchSession, "session", "s", "", "session id or alias")
	branchMergeCmd.Flags().IntVar(&branchBudget, "budget", 0, "token budget for cost normalisation")

	branchCmd.AddCommand(branchCreateCmd, branchCheckpointCmd, branchMergeCmd)

	daemonCmd.Flags().DurationVar(&daemonSweepInterval, "sweep-interval", 5*time.Minute, "drift sweep interval (0 disables)")
	daemonCmd.Flags().DurationVar(&daemonReconcileInterval, "reconcile-interval", time.Minute, "checkpoint reconcile interval (0 disables)")

	adminCmd.AddCommand(adminForceCloseCmd)
	rootCmd.AddCommand(branchCmd, adminCmd, daemonCmd)
}
