// File: cmd/sessions.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
	"github.com/xkilldash9x/webpilot/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

// storeOpener opens the session store. Tests replace it.
type storeOpener func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error)

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, open storeOpener, fn func(ctx context.Context, st store.Store, logger *zap.Logger) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()
	st, err := open(ctx, cfg.Store(), logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st, logger)
}

// newSessionsCmd creates the `sessions` command group.
func newSessionsCmd() *cobra.Command {
	var asJSON bool
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Lists recorded task sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, service.InitializeStore, func(ctx context.Context, st store.Store, _ *zap.Logger) error {
				return listSessions(ctx, st, asJSON, cmd.OutOrStdout())
			})
		},
	}
	sessionsCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print as JSON")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Shows the saved state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, service.InitializeStore, func(ctx context.Context, st store.Store, _ *zap.Logger) error {
				return showSession(ctx, st, args[0], asJSON, cmd.OutOrStdout())
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Deletes sessions and all their checkpoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, service.InitializeStore, func(ctx context.Context, st store.Store, logger *zap.Logger) error {
				return deleteSessions(ctx, st, args, cmd.OutOrStdout(), logger)
			})
		},
	}

	sessionsCmd.AddCommand(showCmd, deleteCmd)
	return sessionsCmd
}

func listSessions(ctx context.Context, st store.Store, asJSON bool, out io.Writer) error {
	sums, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if asJSON {
		return json.NewEncoder(out).Encode(sums)
	}
	if len(sums) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHECKPOINTS\tUPDATED\tGOAL")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.Name, orDash(string(s.Status)), s.Checkpoints, s.UpdatedAt.Local().Format(timeLayout), clip(s.Goal, 60))
	}
	return w.Flush()
}

func showSession(ctx context.Context, st store.Store, id string, asJSON bool, out io.Writer) error {
	sess, err := st.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}

	fmt.Fprintf(out, "Session:     %s (%s)\n", sess.ID, sess.Name)
	fmt.Fprintf(out, "Created:     %s\n", sess.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(out, "Updated:     %s\n", sess.UpdatedAt.Local().Format(timeLayout))
	fmt.Fprintf(out, "Checkpoints: %d\n", len(sess.Checkpoints))

	state := sess.State.Deserialize()
	if state == nil {
		fmt.Fprintln(out, "State:       none")
		return nil
	}
	fmt.Fprintf(out, "Goal:        %s\n", state.Goal)
	fmt.Fprintf(out, "Status:      %s\n", state.Status)
	fmt.Fprintf(out, "Iterations:  %d of %d\n", state.IterationCount, state.MaxIterations)
	if obs := state.CurrentObservation; obs != nil && !obs.IsDegraded() {
		fmt.Fprintf(out, "Page:        %s\n", obs.URL)
	}
	if state.Plan != nil {
		fmt.Fprintf(out, "Plan:        step %d of %d (%s)\n", state.Plan.CurrentStepIndex+1, len(state.Plan.Steps), state.Plan.Status)
	}
	if state.Error != "" {
		fmt.Fprintf(out, "Error:       %s\n", state.Error)
	}
	return nil
}

func deleteSessions(ctx context.Context, st store.Store, ids []string, out io.Writer, logger *zap.Logger) error {
	var failed []string
	for _, id := range ids {
		if err := st.Delete(ctx, id); err != nil {
			logger.Warn("Failed to delete session.", zap.String("session_id", id), zap.Error(err))
			failed = append(failed, id)
			continue
		}
		fmt.Fprintf(out, "Deleted %s\n", id)
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to delete %d session(s): %v", len(failed), failed)
	}
	return nil
}

// newCheckpointsCmd creates the `checkpoints` command group.
func newCheckpointsCmd() *cobra.Command {
	var asJSON bool
	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints <session-id>",
		Short: "Lists the checkpoints of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCheckpoints(cmd, args[0], func(ctx context.Context, m *checkpoint.Manager) error {
				return listCheckpoints(ctx, m, asJSON, cmd.OutOrStdout())
			})
		},
	}
	checkpointsCmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id> <checkpoint-id>",
		Short: "Deletes one checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCheckpoints(cmd, args[0], func(ctx context.Context, m *checkpoint.Manager) error {
				if !m.DeleteCheckpoint(ctx, args[1]) {
					return fmt.Errorf("checkpoint %s not found", args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[1])
				return nil
			})
		},
	}

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune <session-id>",
		Short: "Removes old auto-saves, keeping the newest ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCheckpoints(cmd, args[0], func(ctx context.Context, m *checkpoint.Manager) error {
				n := m.CleanupAutoSaves(ctx, keep)
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d auto-save(s)\n", n)
				return nil
			})
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 0, "Auto-saves to keep (default: checkpoint.cleanup_keep)")

	checkpointsCmd.AddCommand(deleteCmd, pruneCmd)
	return checkpointsCmd
}

// withCheckpoints binds a checkpoint manager to an existing session.
func withCheckpoints(cmd *cobra.Command, sessionID string, fn func(ctx context.Context, m *checkpoint.Manager) error) error {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return err
	}
	return withStore(cmd, service.InitializeStore, func(ctx context.Context, st store.Store, logger *zap.Logger) error {
		if _, err := st.Load(ctx, sessionID); err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				return fmt.Errorf("session %s not found", sessionID)
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		m := checkpoint.NewManager(logger, st, nil, service.CheckpointConfig(cfg.Checkpoint()))
		if err := m.BindSession(ctx, sessionID, ""); err != nil {
			return err
		}
		return fn(ctx, m)
	})
}

func listCheckpoints(ctx context.Context, m *checkpoint.Manager, asJSON bool, out io.Writer) error {
	infos := m.ListCheckpoints(ctx)
	if asJSON {
		return json.NewEncoder(out).Encode(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTEP\tAUTO\tCREATED\tDESCRIPTION")
	for _, cp := range infos {
		auto := ""
		if cp.IsAutoSave {
			auto = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			cp.ID, cp.Name, cp.StepIndex, auto, cp.CreatedAt.Local().Format(timeLayout), clip(cp.Description, 60))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	s = oneLine(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
