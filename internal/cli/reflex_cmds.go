package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Nubaeon/empirica/internal/drift"
	"github.com/Nubaeon/empirica/pkg/api"
)

var (
	reflexSession  string
	reflexInput    string
	reflexSign     bool
	reflexTask     string
	reflexCascade  string
	checkDecision  string
	checkRound     int
	checkFindings  []string
	checkUnknowns  []string
	actAction      string
	postEvidence   string
	cascadeTask    string
	cascadeGoal    string
	cascadeContext string
)

var cascadeCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Manage CASCADE passes",
}

var cascadeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new cascade (and epistemic transaction) in a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		var ctx any
		if cascadeContext != "" {
			if err := json.Unmarshal([]byte(cascadeContext), &ctx); err != nil {
				return emit(nil, err)
			}
		}
		result, err := engineAPI.CascadeCreate(api.CascadeCreateRequest{
			SessionRef: reflexSession,
			Task:       cascadeTask,
			Context:    ctx,
			GoalID:     optStr(cascadeGoal),
		})
		return emit(result, err)
	},
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Submit the PREFLIGHT self-assessment (payload on stdin, as a file, or inline JSON)",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(reflexInput)
		if err != nil {
			return emit(nil, err)
		}
		result, aerr := engineAPI.SubmitPreflight(api.PreflightRequest{
			SessionRef: reflexSession,
			Assessment: payload,
			CascadeID:  optStr(reflexCascade),
			Task:       reflexTask,
			Sign:       reflexSign,
		})
		return emit(result, aerr)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Submit a CHECK self-assessment with its decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(reflexInput)
		if err != nil {
			return emit(nil, err)
		}
		result, aerr := engineAPI.SubmitCheck(api.CheckRequest{
			SessionRef:        reflexSession,
			Assessment:        payload,
			Decision:          checkDecision,
			Round:             checkRound,
			Findings:          checkFindings,
			RemainingUnknowns: checkUnknowns,
			Sign:              reflexSign,
		})
		return emit(result, aerr)
	},
}

var actCmd = &cobra.Command{
	Use:   "act",
	Short: "Submit the ACT self-assessment",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(reflexInput)
		if err != nil {
			return emit(nil, err)
		}
		result, aerr := engineAPI.SubmitAct(api.ActRequest{
			SessionRef: reflexSession,
			Assessment: payload,
			Action:     actAction,
			Sign:       reflexSign,
		})
		return emit(result, aerr)
	},
}

var postflightCmd = &cobra.Command{
	Use:   "postflight",
	Short: "Submit the POSTFLIGHT self-assessment, closing the transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(reflexInput)
		if err != nil {
			return emit(nil, err)
		}
		var sources []drift.EvidenceSource
		if postEvidence != "" {
			raw, rerr := readPayload(postEvidence)
			if rerr != nil {
				return emit(nil, rerr)
			}
			if uerr := json.Unmarshal(raw, &sources); uerr != nil {
				return emit(nil, uerr)
			}
		}
		result, aerr := engineAPI.SubmitPostflight(api.PostflightRequest{
			SessionRef: reflexSession,
			Assessment: payload,
			Evidence:   sources,
			Sign:       reflexSign,
		})
		return emit(result, aerr)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{preflightCmd, checkCmd, actCmd, postflightCmd} {
		cmd.Flags().StringVarP(&reflexSession, "session", "s", "", "session id or alias (default: this instance's active session)")
		cmd.Flags().StringVarP(&reflexInput, "input", "i", "-", "assessment payload: file path, inline JSON, or - for stdin")
		cmd.Flags().BoolVar(&reflexSign, "sign", false, "sign the resulting checkpoint with this agent's identity")
	}
	preflightCmd.Flags().StringVar(&reflexTask, "task", "", "task description when no cascade exists yet")
	preflightCmd.Flags().StringVar(&reflexCascade, "cascade", "", "explicit cascade id to open the transaction under")

	checkCmd.Flags().StringVar(&checkDecision, "decision", "", "proceed, proceed_with_caution, or investigate (required)")
	checkCmd.Flags().IntVar(&checkRound, "round", 0, "CHECK round (0 = next)")
	checkCmd.Flags().StringSliceVar(&checkFindings, "finding", nil, "investigation finding (repeatable)")
	checkCmd.Flags().StringSliceVar(&checkUnknowns, "unknown", nil, "remaining unknown (repeatable)")
	checkCmd.MarkFlagRequired("decision")

	actCmd.Flags().StringVar(&actAction, "action", "", "short description of the action being taken")

	postflightCmd.Flags().StringVar(&postEvidence, "evidence", "", "grounded evidence sources: file path, inline JSON, or - for stdin")

	cascadeCreateCmd.Flags().StringVarP(&reflexSession, "session", "s", "", "session id or alias")
	cascadeCreateCmd.Flags().StringVar(&cascadeTask, "task", "", "task description (required)")
	cascadeCreateCmd.Flags().StringVar(&cascadeGoal, "goal", "", "goal id this cascade serves")
	cascadeCreateCmd.Flags().StringVar(&cascadeContext, "context", "", "JSON context blob")
	cascadeCreateCmd.MarkFlagRequired("task")
	cascadeCmd.AddCommand(cascadeCreateCmd)

	rootCmd.AddCommand(cascadeCmd, preflightCmd, checkCmd, actCmd, postflightCmd)
}
