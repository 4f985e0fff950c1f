package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/pkuntong/highlanderhomes-sub002/internal/api"
	"github.com/pkuntong/highlanderhomes-sub002/internal/mirror"
	"github.com/pkuntong/highlanderhomes-sub002/sdk"
	"github.com/spf13/cobra"
)

func newReloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Fetch every collection into the offline mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				counts, err := c.Reload(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(counts))
				for name := range counts {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%-22s %d\n", name, counts[name])
				}
				return nil
			})
		},
	}
}

func newMirrorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mirror [collection]",
		Short: "Read the offline mirror",
		Long: "With no argument, list the mirrored collections. With a collection name, print\n" +
			"its mirrored documents. Works without a network connection.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mirror.OpenSQLite(a.cfg.MirrorPath)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				infos, err := m.Collections(ctx)
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Fprintln(out, "Nothing mirrored yet. Run: propsync reload")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "COLLECTION\tDOCUMENTS\tMIRRORED")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Name, info.Count, info.MirroredAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			}

			known := false
			for _, col := range api.ReloadCollections {
				known = known || col.Name == args[0]
			}
			if !known {
				return fmt.Errorf("unknown collection %q", args[0])
			}
			docs, err := m.Load(ctx, args[0])
			if err != nil {
				return err
			}
			bodies := make([]json.RawMessage, 0, len(docs))
			for _, doc := range docs {
				bodies = append(bodies, doc.Body)
			}
			raw, err := json.Marshal(bodies)
			if err != nil {
				return err
			}
			return printJSON(out, raw)
		},
	}
}
