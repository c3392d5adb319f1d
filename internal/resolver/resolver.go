// Package resolver identifies the calling terminal/agent instance so that
// concurrent invocations from different panes never clobber each other's
// "active session" pointer, and resolves which session an unqualified CLI
// invocation should act on. Instance identification leans on tmux pane
// addressing first since agent fleets are commonly driven through tmux;
// see DESIGN.md for the stdlib-only rationale.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// StalenessHorizon is the default age after which an instance's active
// context pointer is considered stale and eligible for reaping.
const StalenessHorizon = 4 * time.Hour

// InstanceID resolves the calling terminal instance identifier, trying each
// source in priority order and returning the first non-empty
// value. Returns "" if none apply (e.g. non-interactive, no tmux, no
// terminal-emulator session id).
func InstanceID() string {
	if v := os.Getenv("EMPIRICA_INSTANCE_ID"); v != "" {
		return v
	}
	if v := os.Getenv("TMUX_PANE"); v != "" {
		return "tmux:" + v
	}
	if v := os.Getenv("TERM_SESSION_ID"); v != "" {
		return "term:" + v
	}
	if v := os.Getenv("WINDOWID"); v != "" {
		return "window:" + v
	}
	return ""
}

// StateDir returns $XDG_STATE_HOME/empirica, falling back to
// ~/.local/state/empirica when XDG_STATE_HOME is unset, per the XDG base
// directory spec.
func StateDir() (string, error) {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return filepath.Join(v, "empirica"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "empirica"), nil
}

// ActiveContext is the pointer an instance or TTY index file stores: which
// session/cascade the next unqualified CLI call should act on.
type ActiveContext struct {
	SessionID string    `json:"session_id"`
	CascadeID string    `json:"cascade_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsStale reports whether ctx was last updated before horizon ago.
func (ctx ActiveContext) IsStale(horizon time.Duration, now time.Time) bool {
	if horizon <= 0 {
		horizon = StalenessHorizon
	}
	return now.Sub(ctx.UpdatedAt) > horizon
}

// indexPaths returns the instance-keyed and TTY-keyed index file paths for
// the current process. The instance key comes from InstanceID(); the TTY
// key comes from ttyKey(), both sanitized for use as filenames.
func indexPaths(stateDir string) (instancePath, ttyPath string) {
	inst := sanitizeKey(InstanceID())
	tty := sanitizeKey(ttyKey())
	if inst != "" {
		instancePath = filepath.Join(stateDir, "instance-"+inst+".json")
	}
	if tty != "" {
		ttyPath = filepath.Join(stateDir, "tty-"+tty+".json")
	}
	return instancePath, ttyPath
}

// sanitizeKey makes a resolver key safe to embed in a filename.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", " ", "_")
	return replacer.Replace(key)
}

// Resolver reads and writes the active-context index files for the current
// invocation's instance and TTY.
type Resolver struct {
	stateDir string
}

// New constructs a Resolver rooted at the XDG state directory.
func New() (*Resolver, error) {
	dir, err := StateDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Resolver{stateDir: dir}, nil
}

// Load reads the instance-keyed index file if present, falling back to the
// TTY-keyed file. The instance file is authoritative: when both exist and
// disagree, Load returns the instance file's content and rewrites the TTY
// file to match: the instance file is authoritative and corrects the TTY
// file on disagreement.
func (r *Resolver) Load() (*ActiveContext, error) {
	instPath, ttyPath := indexPaths(r.stateDir)

	var instCtx, ttyCtx *ActiveContext
	if instPath != "" {
		instCtx, _ = readContext(instPath)
	}
	if ttyPath != "" {
		ttyCtx, _ = readContext(ttyPath)
	}

	switch {
	case instCtx != nil && ttyCtx != nil:
		if *instCtx != *ttyCtx {
			_ = writeContextAtomic(ttyPath, instCtx)
		}
		return instCtx, nil
	case instCtx != nil:
		return instCtx, nil
	case ttyCtx != nil:
		return ttyCtx, nil
	default:
		return nil, nil
	}
}

// Save writes ctx to both the instance-keyed and TTY-keyed index files
// using an atomic rename, so a concurrent reader never observes a
// half-written file.
func (r *Resolver) Save(ctx ActiveContext) error {
	instPath, ttyPath := indexPaths(r.stateDir)
	if instPath != "" {
		if err := writeContextAtomic(instPath, &ctx); err != nil {
			return fmt.Errorf("write instance index: %w", err)
		}
	}
	if ttyPath != "" {
		if err := writeContextAtomic(ttyPath, &ctx); err != nil {
			return fmt.Errorf("write tty index: %w", err)
		}
	}
	return nil
}

// readContext reads and decodes an ActiveContext JSON file.
func readContext(path string) (*ActiveContext, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx, err := decodeActiveContext(raw)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

// writeContextAtomic writes ctx to path via a temp file plus rename, so a
// reader always sees either the old or the new complete content.
func writeContextAtomic(path string, ctx *ActiveContext) error {
	raw, err := encodeActiveContext(ctx)
	if err != nil {
		return err
	}
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
