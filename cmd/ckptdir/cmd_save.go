package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/jsonitem"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

type saveFlags struct {
	item     string
	restarts int
	counter  int64
}

func newSaveCmd(g *globalFlags) *cobra.Command {
	f := &saveFlags{}
	cmd := &cobra.Command{
		Use:   "save <input.json> <final-path>",
		Short: "Save a JSON document as a checkpoint",
		Long: `Save reads a JSON document and commits it as one item of a checkpoint at
final-path. A relative final-path is resolved against the configured storage
root. Every process must run save with the same arguments.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(cmd, g, f, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&f.item, "item", jsonitem.DefaultFilename, "file name of the item inside the checkpoint")
	cmd.Flags().IntVar(&f.restarts, "restarts", 1, "maximum save attempts; each attempt uses a fresh counter")
	cmd.Flags().Int64Var(&f.counter, "counter", 0, "counter value of the first attempt")
	return cmd
}

// resolveFinal joins a relative final path onto the storage root.
func resolveFinal(root, final string) string {
	if root == "" || filepath.IsAbs(final) || strings.Contains(final, "://") {
		return storage.Clean(final)
	}
	return storage.Join(root, final)
}

// checkFinal refuses a final path that already holds a checkpoint or a file.
// An unfinished save left there by an earlier Sentinel run is recovered:
// Sentinel saves replace it in Create, and for Rename saves the coordinator
// removes it here since the temporary could not be moved onto it.
func checkFinal(ctx context.Context, rt *runtime, strategy ckptdir.Strategy, final string) error {
	exists, err := rt.st.Exists(ctx, final)
	if err != nil {
		return ckpterrors.Storage("exists", final, err)
	}
	if !exists {
		return nil
	}
	unfinished, err := ckptdir.IsTmpCheckpoint(ctx, rt.st, final)
	if err != nil {
		return ckpterrors.Storage("exists", final, err)
	}
	if !unfinished {
		return &ckpterrors.PreconditionError{Path: final, Reason: "checkpoint already exists"}
	}
	if strategy != ckptdir.Rename || !rt.role.IsCoordinator() {
		return nil
	}
	rt.logger.Warn("removing unfinished checkpoint at final path", "path", final)
	if err := rt.st.RemoveAll(ctx, final); err != nil {
		return ckpterrors.Storage("remove", final, err)
	}
	return nil
}

func runSave(cmd *cobra.Command, g *globalFlags, f *saveFlags, input, final string) error {
	ctx := cmd.Context()
	logger := g.logger(cmd)

	s, err := g.settings()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var item any
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("input %s is not valid JSON: %w", input, err)
	}

	rt, err := openRuntime(ctx, s, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	strategy, err := rt.strategy()
	if err != nil {
		return err
	}
	final = resolveFinal(s.Storage, final)
	if err := checkFinal(ctx, rt, strategy, final); err != nil {
		return err
	}
	handler := jsonitem.Handler{Filename: f.item, Role: rt.role}

	restart := ckpterrors.DefaultRestart
	restart.MaxAttempts = f.restarts
	result := ckpterrors.WithRestarts(ctx, restart, func(ctx context.Context, attempt int) (string, error) {
		opts := append(rt.options(),
			ckptdir.WithStrategy(strategy),
			ckptdir.WithCounter(ckptdir.NewCounter(f.counter+int64(attempt-1))),
		)
		saver := ckptdir.NewSaver(rt.st, rt.barrier, rt.role, opts...)
		defer saver.Close()

		task, err := saver.Save(ctx, []string{final}, func(ctx context.Context, locations []string) error {
			return handler.Save(ctx, rt.st, locations[0], item)
		})
		if err != nil {
			logger.Warn("save attempt failed", "attempt", attempt, "error", err)
			return "", err
		}
		if err := task.Wait(ctx); err != nil {
			logger.Warn("commit attempt failed", "attempt", attempt, "error", err)
			return "", err
		}
		return final, nil
	})
	if result.Err != nil {
		return result.Err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s, %d attempt(s), %s)\n",
		result.Value, strategy, result.Attempts, result.Duration.Round(time.Millisecond))
	return nil
}
