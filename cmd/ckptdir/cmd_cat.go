package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/jsonitem"
)

var (
	errNoDir        = errors.New("no directory given and no storage configured")
	errNotFinalized = errors.New("checkpoint is not finalized")
)

func newCatCmd(g *globalFlags) *cobra.Command {
	var item string
	cmd := &cobra.Command{
		Use:   "cat <final-path>",
		Short: "Print the JSON item of a finalized checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := g.settings()
			if err != nil {
				return err
			}
			rt, err := openRuntime(ctx, s, g.logger(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			final := resolveFinal(s.Storage, args[0])
			ok, err := ckptdir.IsFinalized(ctx, rt.st, final)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", final, errNotFinalized)
			}

			var v any
			if err := (jsonitem.Handler{Filename: item}).Restore(ctx, rt.st, final, &v); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	cmd.Flags().StringVar(&item, "item", jsonitem.DefaultFilename, "file name of the item inside the checkpoint")
	return cmd
}
