package cli

import (
	"github.com/spf13/cobra"

	"github.com/Nubaeon/empirica/internal/models"
)

var (
	goalSession    string
	goalObjective  string
	goalBreadth    float64
	goalDuration   float64
	goalCoord      float64
	goalComplexity float64
	goalCriteria   []string
	goalReason     string

	subtaskGoal       string
	subtaskDesc       string
	subtaskImportance string
	subtaskEvidence   string
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Create and track hierarchical goals",
}

var goalCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a goal under a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		var complexity *float64
		if cmd.Flags().Changed("complexity") {
			complexity = &goalComplexity
		}
		result, err := engineAPI.GoalCreate(models.GoalCreateInput{
			SessionID: goalSession,
			Objective: goalObjective,
			Scope: models.ScopeVector{
				Breadth:      goalBreadth,
				Duration:     goalDuration,
				Coordination: goalCoord,
			},
			SuccessCriteria:     goalCriteria,
			EstimatedComplexity: complexity,
		})
		return emit(result, err)
	},
}

var goalSubtaskCmd = &cobra.Command{
	Use:   "subtask",
	Short: "Add a subtask to a goal",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalAddSubtask(models.SubTaskCreateInput{
			GoalID:      subtaskGoal,
			Description: subtaskDesc,
			Importance:  models.EpistemicImportance(subtaskImportance),
		})
		return emit(result, err)
	},
}

var goalCompleteSubtaskCmd = &cobra.Command{
	Use:   "complete-subtask <subtask-id>",
	Short: "Complete a subtask with its evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalCompleteSubtask(args[0], subtaskEvidence)
		return emit(result, err)
	},
}

var goalProgressCmd = &cobra.Command{
	Use:   "progress <goal-id>",
	Short: "Show a goal's completion state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalGetProgress(args[0])
		return emit(result, err)
	},
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalList(goalSession, nil, 50)
		return emit(result, err)
	},
}

var goalClaimCmd = &cobra.Command{
	Use:   "claim <goal-id>",
	Short: "Claim a goal for the current session before mutating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalClaim(args[0], goalSession)
		return emit(result, err)
	},
}

var goalCompleteCmd = &cobra.Command{
	Use:   "complete <goal-id>",
	Short: "Complete a goal (refused while critical subtasks remain open)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalComplete(args[0], goalReason)
		return emit(result, err)
	},
}

var goalAbandonCmd = &cobra.Command{
	Use:   "abandon <goal-id>",
	Short: "Abandon a goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.GoalAbandon(args[0])
		return emit(result, err)
	},
}

func init() {
	goalCreateCmd.Flags().StringVarP(&goalSession, "session", "s", "", "session id or alias")
	goalCreateCmd.Flags().StringVar(&goalObjective, "objective", "", "goal objective (required)")
	goalCreateCmd.Flags().Float64Var(&goalBreadth, "breadth", 0.5, "scope breadth (0-1)")
	goalCreateCmd.Flags().Float64Var(&goalDuration, "duration", 0.5, "scope duration (0-1)")
	goalCreateCmd.Flags().Float64Var(&goalCoord, "coordination", 0.0, "scope coordination (0-1)")
	goalCreateCmd.Flags().Float64Var(&goalComplexity, "complexity", 0, "estimated complexity (0-1)")
	goalCreateCmd.Flags().StringSliceVar(&goalCriteria, "criterion", nil, "success criterion (repeatable)")
	goalCreateCmd.MarkFlagRequired("objective")

	goalSubtaskCmd.Flags().StringVar(&subtaskGoal, "goal", "", "goal id (required)")
	goalSubtaskCmd.Flags().StringVar(&subtaskDesc, "description", "", "subtask description (required)")
	goalSubtaskCmd.Flags().StringVar(&subtaskImportance, "importance", "medium", "critical, high, medium, or low")
	goalSubtaskCmd.MarkFlagRequired("goal")
	goalSubtaskCmd.MarkFlagRequired("description")

	goalCompleteSubtaskCmd.Flags().StringVar(&subtaskEvidence, "evidence", "", "completion evidence")

	goalListCmd.Flags().StringVarP(&goalSession, "session", "s", "", "session id or alias")
	goalClaimCmd.Flags().StringVarP(&goalSession, "session", "s", "", "session id or alias")
	goalCompleteCmd.Flags().StringVar(&goalReason, "reason", "", "completion note")

	goalCmd.AddCommand(goalCreateCmd, goalSubtaskCmd, goalCompleteSubtaskCmd, goalProgressCmd, goalListCmd, goalClaimCmd, goalCompleteCmd, goalAbandonCmd)
	rootCmd.AddCommand(goalCmd)
}
