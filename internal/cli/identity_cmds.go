package cli

import (
	"github.com/spf13/cobra"

	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/pkg/api"
)

var (
	identityAIID      string
	identityLabel     string
	identityOverwrite bool

	checkpointPhase string
	checkpointRound int
	checkpointSign  bool
	checkpointSess  string
	diffFrom        string
	diffTo          string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage Ed25519 signing identities",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a signing identity (idempotent unless --overwrite)",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.IdentityCreate(models.IdentityCreateInput{
			AIID:  identityAIID,
			Label: optStr(identityLabel),
		}, identityOverwrite)
		return emit(result, err)
	},
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.IdentityList()
		return emit(result, err)
	},
}

var identityExportCmd = &cobra.Command{
	Use:   "export <ai-id>",
	Short: "Export an agent's public key and fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.IdentityExport(args[0])
		return emit(result, err)
	},
}

var identityVerifyCmd = &cobra.Command{
	Use:   "verify <checkpoint-id>",
	Short: "Verify a signed checkpoint against its signer's public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.VerifyCheckpoint(args[0])
		return emit(result, err)
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Create, load, list and diff git-note checkpoints",
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot a recorded reflex into a checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.CheckpointCreate(api.CheckpointCreateRequest{
			SessionRef: checkpointSess,
			Phase:      checkpointPhase,
			Round:      checkpointRound,
			Sign:       checkpointSign,
		})
		return emit(result, err)
	},
}

var checkpointLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a checkpoint by (session, phase, round); git notes win over SQLite",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.CheckpointLoad(checkpointSess, checkpointPhase, checkpointRound)
		return emit(result, err)
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.CheckpointList(checkpointSess)
		return emit(result, err)
	},
}

var checkpointDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Per-vector delta between two checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engineAPI.CheckpointDiffByID(diffFrom, diffTo)
		return emit(result, err)
	},
}

func init() {
	identityCreateCmd.Flags().StringVar(&identityAIID, "ai", "", "agent identifier (required)")
	identityCreateCmd.Flags().StringVar(&identityLabel, "label", "", "human-readable label")
	identityCreateCmd.Flags().BoolVar(&identityOverwrite, "overwrite", false, "rotate the keypair if one exists")
	identityCreateCmd.MarkFlagRequired("ai")
	identityCmd.AddCommand(identityCreateCmd, identityListCmd, identityExportCmd, identityVerifyCmd)

	for _, cmd := range []*cobra.Command{checkpointCreateCmd, checkpointLoadCmd, checkpointListCmd} {
		cmd.Flags().StringVarP(&checkpointSess, "session", "s", "", "session id or alias")
	}
	checkpointCreateCmd.Flags().StringVar(&checkpointPhase, "phase", "", "reflex phase to snapshot (required)")
	checkpointCreateCmd.Flags().IntVar(&checkpointRound, "round", 0, "reflex round")
	checkpointCreateCmd.Flags().BoolVar(&checkpointSign, "sign", false, "sign the checkpoint")
	checkpointCreateCmd.MarkFlagRequired("phase")
	checkpointLoadCmd.Flags().StringVar(&checkpointPhase, "phase", "", "phase (required)")
	checkpointLoadCmd.Flags().IntVar(&checkpointRound, "round", 1, "round")
	checkpointLoadCmd.MarkFlagRequired("phase")
	checkpointDiffCmd.Flags().StringVar(&diffFrom, "from", "", "from checkpoint id (required)")
	checkpointDiffCmd.Flags().StringVar(&diffTo, "to", "", "to checkpoint id (required)")
	checkpointDiffCmd.MarkFlagRequired("from")
	checkpointDiffCmd.MarkFlagRequired("to")
	checkpointCmd.AddCommand(checkpointCreateCmd, checkpointLoadCmd, checkpointListCmd, checkpointDiffCmd)

	rootCmd.AddCommand(identityCmd, checkpointCmd)
}
