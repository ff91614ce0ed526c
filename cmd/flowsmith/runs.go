package main

import (
	"errors"

	"github.com/spf13/cobra"

	"flowsmith/internal/util/jsonutil"
)

var errNoRunStore = errors.New("no run log store configured (set RUNLOG_DSN or ARTIFACT_S3_ENDPOINT)")

func (c *cli) newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse stored run logs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stores, err := openRunStores(cmd.Context(), c.cfg, false)
			if err != nil {
				return err
			}
			defer stores.Close()
			if stores.reader == nil {
				return errNoRunStore
			}
			runs, err := stores.reader.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				status := "failed"
				if r.Success {
					status = "passed"
				}
				printf(out, "%s  %s  %-6s  iterations=%d rounds=%d critical=%d  %s\n",
					r.FinishedAt.Format("2006-01-02 15:04:05"), r.RunID, status,
					r.Iterations, r.MetaRounds, r.CriticalErrors, r.FlowName)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openRunStores(cmd.Context(), c.cfg, false)
			if err != nil {
				return err
			}
			defer stores.Close()
			if stores.reader == nil {
				return errNoRunStore
			}
			e, err := stores.reader.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			b, err := jsonutil.MarshalNoEscapeIndent(e, "", "  ")
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", b)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
