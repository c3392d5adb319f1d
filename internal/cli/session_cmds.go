package cli

import (
	"github.com/spf13/cobra"

	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/pkg/api"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, inspect, resume and end sessions",
}

var (
	sessionAIID      string
	sessionBootstrap int
	sessionProject   string
	sessionSubject   string
	sessionSummary   string
	resumeMode       string
	resumeN          int
	resumeDetail     string
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new session for an agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.SessionCreate(api.SessionCreateRequest{
			AIID:           sessionAIID,
			BootstrapLevel: sessionBootstrap,
			ProjectID:      optStr(sessionProject),
			Subject:        optStr(sessionSubject),
		})
		return emit(result, err)
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id-or-alias>",
	Short: "Resolve a session ref (UUID, prefix, latest, latest:active:<ai>) to its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.SessionGet(args[0])
		return emit(result, err)
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end [session-id-or-alias]",
	Short: "End a session, writing its handoff report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) > 0 {
			ref = args[0]
		}
		result, err := engineAPI.SessionEnd(ref, sessionSummary)
		return emit(result, err)
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Summarise an agent's epistemic trajectory from prior sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.SessionResume(api.SessionResumeRequest{
			AIID:        sessionAIID,
			Mode:        api.ResumeMode(resumeMode),
			N:           resumeN,
			DetailLevel: resumeDetail,
		})
		return emit(result, err)
	},
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <objective>",
	Short: "Create a session and return its full decision-support context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.SessionStart(api.SessionStartRequest{
			AIID:        sessionAIID,
			Objective:   args[0],
			ProjectName: sessionProject,
		})
		return emit(result, err)
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status [session-id-or-alias]",
	Short: "Show the decision-support readout for a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) > 0 {
			ref = args[0]
		}
		result, err := engineAPI.SessionStatus(ref)
		return emit(result, err)
	},
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage cross-session project containers",
}

var (
	projectName   string
	projectDesc   string
	projectRepos  []string
	projectStatus string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.ProjectCreate(models.ProjectCreateInput{
			Name:        projectName,
			Description: optStr(projectDesc),
			Repos:       projectRepos,
		})
		return emit(result, err)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status *models.ProjectStatus
		if projectStatus != "" {
			s := models.ProjectStatus(projectStatus)
			status = &s
		}
		result, err := engineAPI.ProjectList(status, 50)
		return emit(result, err)
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Move a project between active, dormant and archived",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.ProjectSetStatus(args[0], models.ProjectStatus(projectStatus))
		return emit(result, err)
	},
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect grounded-evidence records",
}

var evidenceListCmd = &cobra.Command{
	Use:   "list [session-id-or-alias]",
	Short: "List the evidence a session's transactions were calibrated against",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) > 0 {
			ref = args[0]
		}
		result, err := engineAPI.EvidenceList(ref, 100)
		return emit(result, err)
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionAIID, "ai", "", "agent identifier (required)")
	sessionCreateCmd.Flags().IntVar(&sessionBootstrap, "bootstrap", 1, "bootstrap level (0-3)")
	sessionCreateCmd.Flags().StringVar(&sessionProject, "project", "", "project id to link the session to")
	sessionCreateCmd.Flags().StringVar(&sessionSubject, "subject", "", "workstream tag")
	sessionCreateCmd.MarkFlagRequired("ai")

	sessionEndCmd.Flags().StringVar(&sessionSummary, "summary", "", "handoff task summary")

	sessionResumeCmd.Flags().StringVar(&sessionAIID, "ai", "", "agent identifier (required)")
	sessionResumeCmd.Flags().StringVar(&resumeMode, "mode", "last", "last, last_n, or session_id")
	sessionResumeCmd.Flags().IntVar(&resumeN, "n", 3, "session count for last_n")
	sessionResumeCmd.Flags().StringVar(&resumeDetail, "detail", "summary", "summary or full")
	sessionResumeCmd.MarkFlagRequired("ai")

	sessionStartCmd.Flags().StringVar(&sessionAIID, "ai", "", "agent identifier (required)")
	sessionStartCmd.Flags().StringVar(&sessionProject, "project", "", "project name (created on first use)")
	sessionStartCmd.MarkFlagRequired("ai")

	sessionCmd.AddCommand(sessionCreateCmd, sessionStartCmd, sessionGetCmd, sessionEndCmd, sessionResumeCmd, sessionStatusCmd)

	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectDesc, "description", "", "project description")
	projectCreateCmd.Flags().StringSliceVar(&projectRepos, "repo", nil, "repository path (repeatable)")
	projectCreateCmd.MarkFlagRequired("name")
	projectListCmd.Flags().StringVar(&projectStatus, "status", "", "filter by status (active, dormant, archived)")
	projectStatusCmd.Flags().StringVar(&projectStatus, "status", "", "new status: active, dormant, or archived (required)")
	projectStatusCmd.MarkFlagRequired("status")
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectStatusCmd)

	evidenceCmd.AddCommand(evidenceListCmd)
	rootCmd.AddCommand(sessionCmd, projectCmd, evidenceCmd)
}
