// Package cli is the thin command-line front end over pkg/api: argument
// parsing, JSON framing, and exit-code mapping only. Engine logic lives
// behind the api package; nothing here touches repositories directly.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Nubaeon/empirica/internal/logging"
	"github.com/Nubaeon/empirica/pkg/api"
)

var (
	engineAPI *api.API

	dbPath     string
	repoPath   string
	outputText bool
	logLevel   string
)

// Exit codes for the subprocess boundary: 0 success, 2 validation error,
// 3 illegal transition, 4 store error, 5 verification failure, 1 other.
const (
	exitOK           = 0
	exitOther        = 1
	exitValidation   = 2
	exitTransition   = 3
	exitStore        = 4
	exitVerification = 5
)

var rootCmd = &cobra.Command{
	Use:   "empirica",
	Short: "Metacognitive state engine for AI agents",
	Long: `Empirica - durable, auditable epistemic state for AI agents

Agents submit numeric self-assessments across the CASCADE workflow
(PREFLIGHT -> CHECK -> ACT -> POSTFLIGHT); the engine validates them,
persists them as versioned checkpoints, computes learning deltas, detects
drift and miscalibration, and gates phase transitions.

Output is JSON on stdout by default (for agent consumption); pass --text
for a human-readable rendering. Diagnostics go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
			return nil
		}
		logging.Init(logLevel)
		var err error
		engineAPI, err = api.Open(api.Config{DBPath: dbPath, RepoPath: repoPath})
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		return nil
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	defer func() {
		if engineAPI != nil {
			engineAPI.Close()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		if coded, ok := err.(*codedError); ok {
			return coded.code
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitOther
	}
	return exitOK
}

// codedError carries the exit code for an already-emitted error envelope.
type codedError struct {
	code int
}

func (e *codedError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// codeFor maps the envelope error taxonomy onto exit codes.
func codeFor(t api.ErrorType) int {
	switch t {
	case api.ErrInvalidInput, api.ErrInvalidAlias, api.ErrValidation:
		return exitValidation
	case api.ErrIllegalTransition:
		return exitTransition
	case api.ErrDatabase:
		return exitStore
	case api.ErrVerificationFailed:
		return exitVerification
	default:
		return exitOther
	}
}

// emit renders the result envelope on stdout and, on failure, a short
// human summary on stderr. The error_type is never paraphrased or hidden.
func emit(result any, err error) error {
	envelope := api.NewEnvelope(result, err)

	if outputText {
		if envelope.OK {
			pretty, _ := json.MarshalIndent(envelope.Result, "", "  ")
			fmt.Println(string(pretty))
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", envelope.ErrorType, envelope.Reason)
			if envelope.Suggestion != "" {
				fmt.Fprintf(os.Stderr, "  suggestion: %s\n", envelope.Suggestion)
			}
			for _, rc := range envelope.RecoveryCommands {
				fmt.Fprintf(os.Stderr, "  try: %s\n", rc)
			}
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		if eerr := enc.Encode(envelope); eerr != nil {
			fmt.Fprintf(os.Stderr, "error: encode result: %v\n", eerr)
			return &codedError{code: exitOther}
		}
		if !envelope.OK {
			fmt.Fprintf(os.Stderr, "%s: %s\n", envelope.ErrorType, envelope.Reason)
		}
	}

	if !envelope.OK {
		return &codedError{code: codeFor(envelope.ErrorType)}
	}
	return nil
}

// readPayload loads a JSON payload: "-" (or empty) means stdin, a leading
// "{" means inline JSON, otherwise a file path.
func readPayload(input string) (json.RawMessage, error) {
	switch {
	case input == "" || input == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("no input provided on stdin")
		}
		return data, nil
	case len(input) > 0 && input[0] == '{':
		return json.RawMessage(input), nil
	default:
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return data, nil
	}
}

// optStr returns nil for an empty flag value.
func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func init() {
	// Agents generate flag names both ways; normalise snake_case to the
	// canonical dashed form.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite store path (default: .empirica/sessions/sessions.db, else ~/.empirica/sessions/sessions.db)")
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", "", "git working copy for checkpoint notes (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&outputText, "text", false, "human-readable output instead of JSON envelopes")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "diagnostic log level on stderr (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("empirica %s\n", version)
	},
}
