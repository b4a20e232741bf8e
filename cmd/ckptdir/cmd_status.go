package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
)

type statusEntry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Status    string `json:"status"`
	Created   string `json:"created,omitempty"`
	Committed string `json:"committed,omitempty"`
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [dir]",
		Short: "List checkpoints and whether they are finalized",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			rt, err := openRuntime(cmd.Context(), s, g.logger(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			infos, err := ckptdir.ListCheckpoints(cmd.Context(), rt.st, dir)
			if err != nil {
				return fmt.Errorf("list %s: %w", dir, err)
			}
			entries := make([]statusEntry, 0, len(infos))
			for _, info := range infos {
				e := statusEntry{Name: info.Name, Path: info.Path, Status: string(info.Status)}
				if m := info.Metadata; m != nil {
					e.Created = m.InitTime().UTC().Format(time.RFC3339)
					if m.Committed() {
						e.Committed = m.CommitTime().UTC().Format(time.RFC3339)
					}
				}
				entries = append(entries, e)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATUS\tCREATED\tCOMMITTED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Status, dash(e.Created), dash(e.Committed))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
