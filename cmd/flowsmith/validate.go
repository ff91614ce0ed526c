package main

import (
	"errors"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"flowsmith/internal/flow"
	"flowsmith/internal/issue"
	"flowsmith/internal/rules/coverage"
	"flowsmith/internal/rules/structural"
	"flowsmith/internal/testflows"
	"flowsmith/internal/util/jsonutil"
)

type target struct {
	label string
	doc   *flow.Document
}

type report struct {
	Flow   string        `json:"flow"`
	Issues []issue.Issue `json:"issues"`
}

func (c *cli) newValidateCmd() *cobra.Command {
	var (
		asJSON     bool
		scope      string
		connectors []string
	)
	cmd := &cobra.Command{
		Use:   "validate [flow.json...]",
		Short: "Run the deterministic rules only; exits 2 on critical issues",
		Long: `Validate flow files, or with --connector every test-flow-*.json shipped
with that connector in the connectors checkout (paths.connectors_dir).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("variable-scope") {
				c.cfg.Loop.VariableScope = scope
				if err := c.cfg.Validate(); err != nil {
					return err
				}
			}
			targets, err := c.targets(args, connectors)
			if err != nil {
				return err
			}
			schemas, err := buildSchemas(c.cfg, c.logger)
			if err != nil {
				return err
			}
			opts := structural.Options{VariableScope: structuralScope(c.cfg.Loop.VariableScope)}

			var (
				reports  []report
				critical bool
			)
			for _, t := range targets {
				issues := structural.Check(t.doc, opts)
				if schemas != nil {
					issues = append(issues, coverage.Check(cmd.Context(), t.doc, schemas)...)
				}
				if issues == nil {
					issues = []issue.Issue{}
				}
				critical = critical || issue.HasCritical(issues)
				reports = append(reports, report{Flow: t.label, Issues: issues})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				var v any = reports
				if len(reports) == 1 {
					v = reports[0].Issues
				}
				b, err := jsonutil.MarshalNoEscapeIndent(v, "", "  ")
				if err != nil {
					return err
				}
				printf(out, "%s\n", b)
			} else {
				for _, r := range reports {
					if len(reports) > 1 {
						printf(out, "%s\n", r.Flow)
					}
					if len(r.Issues) == 0 {
						printf(out, "  no issues\n")
						continue
					}
					printIssues(out, r.Issues)
				}
			}
			if critical {
				return errCritical
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print issues as JSON")
	cmd.Flags().StringVar(&scope, "variable-scope", "", "variable reference scope: upstream or flow")
	cmd.Flags().StringSliceVar(&connectors, "connector", nil, "validate the test flows of these connectors")
	return cmd
}

func (c *cli) targets(files, connectors []string) ([]target, error) {
	if len(files) == 0 && len(connectors) == 0 {
		return nil, errors.New("pass flow files or --connector")
	}
	var out []target
	for _, path := range files {
		doc, err := readFlow(path)
		if err != nil {
			return nil, err
		}
		out = append(out, target{label: path, doc: doc})
	}
	if len(connectors) == 0 {
		return out, nil
	}
	if c.cfg.Paths.ConnectorsDir == "" {
		return nil, errors.New("--connector needs paths.connectors_dir (FLOWSMITH_CONNECTORS_DIR)")
	}
	finder, err := testflows.NewFinder(c.cfg.Paths.ConnectorsDir, c.logger)
	if err != nil {
		return nil, err
	}
	for _, name := range connectors {
		flows, err := finder.Find(name)
		if err != nil {
			return nil, err
		}
		for _, lf := range flows {
			out = append(out, target{label: lf.Path, doc: lf.Document})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no test flows found")
	}
	return out, nil
}

func structuralScope(s string) structural.VariableScope {
	scope, err := structural.ParseScope(s)
	if err != nil {
		return structural.ScopeFlow
	}
	return scope
}

// printIssues lists critical issues before warnings, keeping rule order.
func printIssues(w io.Writer, issues []issue.Issue) {
	sorted := append([]issue.Issue(nil), issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IsCritical() && !sorted[j].IsCritical()
	})
	for _, it := range sorted {
		printf(w, "  %s\n", it)
	}
}
