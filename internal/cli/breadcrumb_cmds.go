package cli

import (
	"github.com/spf13/cobra"

	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/pkg/api"
)

var (
	bcSession    string
	bcProject    string
	bcGoal       string
	bcSubject    string
	bcImpact     float64
	bcWhy        string
	bcResolver   string
	bcPrevention string
	bcRootCause  string

	queryFindings  bool
	queryUnknowns  bool
	queryDeadEnds  bool
	queryLimit     int
	queryThreshold float64
)

var findingCmd = &cobra.Command{
	Use:   "finding",
	Short: "Log, verify and query findings",
}

var findingLogCmd = &cobra.Command{
	Use:   "log <text>",
	Short: "Record a discovered fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.LogFinding(models.FindingLogInput{
			SessionID: bcSession,
			ProjectID: bcProject,
			Finding:   args[0],
			GoalID:    optStr(bcGoal),
			Subject:   optStr(bcSubject),
			Impact:    bcImpact,
		})
		return emit(result, err)
	},
}

var findingVerifyCmd = &cobra.Command{
	Use:   "verify --id <finding-id>",
	Short: "Re-verify a finding, resetting its staleness decay",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		result, err := engineAPI.FindingVerify(id, nil, nil)
		return emit(result, err)
	},
}

var unknownCmd = &cobra.Command{
	Use:   "unknown",
	Short: "Log and resolve knowledge gaps",
}

var unknownLogCmd = &cobra.Command{
	Use:   "log <text>",
	Short: "Record an open question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.LogUnknown(models.UnknownLogInput{
			SessionID: bcSession,
			ProjectID: bcProject,
			Unknown:   args[0],
			GoalID:    optStr(bcGoal),
			Subject:   optStr(bcSubject),
			Impact:    bcImpact,
		})
		return emit(result, err)
	},
}

var unknownResolveCmd = &cobra.Command{
	Use:   "resolve <unknown-id>",
	Short: "Resolve an open question (once; resolved records are immutable)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.ResolveUnknown(args[0], bcResolver)
		return emit(result, err)
	},
}

var deadendCmd = &cobra.Command{
	Use:   "deadend",
	Short: "Log failed approaches",
}

var deadendLogCmd = &cobra.Command{
	Use:   "log <approach>",
	Short: "Record a failed approach and why it failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.LogDeadEnd(models.DeadEndLogInput{
			SessionID: bcSession,
			ProjectID: bcProject,
			Approach:  args[0],
			WhyFailed: bcWhy,
			GoalID:    optStr(bcGoal),
			Subject:   optStr(bcSubject),
			Impact:    bcImpact,
		})
		return emit(result, err)
	},
}

var mistakeCmd = &cobra.Command{
	Use:   "mistake",
	Short: "Log mistakes with their root-cause vector",
}

var mistakeLogCmd = &cobra.Command{
	Use:   "log <mistake>",
	Short: "Record a mistake, why it was wrong, and how to prevent it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rootCause *models.RootCauseVector
		if bcRootCause != "" {
			rc := models.RootCauseVector(bcRootCause)
			rootCause = &rc
		}
		result, err := engineAPI.LogMistake(models.MistakeLogInput{
			SessionID:       bcSession,
			Mistake:         args[0],
			WhyWrong:        bcWhy,
			GoalID:          optStr(bcGoal),
			RootCauseVector: rootCause,
			Prevention:      optStr(bcPrevention),
		})
		return emit(result, err)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Fuzzy-search a project's breadcrumbs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.BreadcrumbQuery(api.BreadcrumbQueryRequest{
			SessionRef:   bcSession,
			ProjectID:    bcProject,
			Query:        args[0],
			ShowFindings: queryFindings,
			ShowUnknowns: queryUnknowns,
			ShowDeadEnds: queryDeadEnds,
			Limit:        queryLimit,
			Threshold:    queryThreshold,
		})
		return emit(result, err)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{findingLogCmd, unknownLogCmd, deadendLogCmd, mistakeLogCmd, queryCmd} {
		cmd.Flags().StringVarP(&bcSession, "session", "s", "", "session id or alias (default: this instance's active session)")
		cmd.Flags().StringVar(&bcProject, "project", "", "project id (default: the session's project)")
		cmd.Flags().StringVar(&bcGoal, "goal", "", "goal id to attach to")
	}
	for _, cmd := range []*cobra.Command{findingLogCmd, unknownLogCmd, deadendLogCmd} {
		cmd.Flags().StringVar(&bcSubject, "subject", "", "subject file or topic")
		cmd.Flags().Float64Var(&bcImpact, "impact", 0.5, "impact (0-1)")
	}
	deadendLogCmd.Flags().StringVar(&bcWhy, "why", "", "why the approach failed (required)")
	deadendLogCmd.MarkFlagRequired("why")
	mistakeLogCmd.Flags().StringVar(&bcWhy, "why", "", "why it was wrong (required)")
	mistakeLogCmd.Flags().StringVar(&bcRootCause, "root-cause", "", "root-cause vector (KNOW, CONTEXT, CLARITY, COHERENCE, UNCERTAINTY)")
	mistakeLogCmd.Flags().StringVar(&bcPrevention, "prevention", "", "how to prevent a repeat")
	mistakeLogCmd.MarkFlagRequired("why")

	unknownResolveCmd.Flags().StringVar(&bcResolver, "by", "", "resolver identifier (ai_id)")
	findingVerifyCmd.Flags().String("id", "", "finding id (required)")
	findingVerifyCmd.MarkFlagRequired("id")

	queryCmd.Flags().BoolVar(&queryFindings, "findings", false, "search findings only")
	queryCmd.Flags().BoolVar(&queryUnknowns, "unknowns", false, "search unknowns only")
	queryCmd.Flags().BoolVar(&queryDeadEnds, "deadends", false, "search dead ends only")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 20, "max results")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0.3, "minimum match score")

	findingCmd.AddCommand(findingLogCmd, findingVerifyCmd)
	unknownCmd.AddCommand(unknownLogCmd, unknownResolveCmd)
	deadendCmd.AddCommand(deadendLogCmd)
	mistakeCmd.AddCommand(mistakeLogCmd)

	rootCmd.AddCommand(findingCmd, unknownCmd, deadendCmd, mistakeCmd, queryCmd)
}
