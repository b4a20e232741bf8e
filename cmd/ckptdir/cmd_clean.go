package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/barrier"
)

func newCleanCmd(g *globalFlags) *cobra.Command {
	var resetBarriers bool
	cmd := &cobra.Command{
		Use:   "clean [dir]",
		Short: "Remove unfinished checkpoints",
		Long: `Clean removes temporary and uncommitted checkpoint directories left by
crashed saves. Run it only while no save into dir is in progress. Only the
coordinating process deletes anything.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := g.settings()
			if err != nil {
				return err
			}
			dir := s.Storage
			if len(args) == 1 {
				dir = resolveFinal(s.Storage, args[0])
			}
			if dir == "" {
				return errNoDir
			}

			rt, err := openRuntime(ctx, s, g.logger(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			removed, err := ckptdir.CleanupTemporary(ctx, rt.st, dir, rt.role, rt.logger)
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", p)
			}
			if err != nil {
				return err
			}

			if fb, ok := rt.barrier.(*barrier.File); ok && resetBarriers && rt.role.IsCoordinator() {
				if err := fb.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset barrier markers in %s\n", fb.Dir())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetBarriers, "reset-barriers", false, "also remove file barrier markers")
	return cmd
}
