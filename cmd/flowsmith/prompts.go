package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"flowsmith/internal/prompts"
)

func (c *cli) newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect and manage the oracle system prompts",
	}
	open := func() (*prompts.Dir, error) { return prompts.NewDir(c.cfg.Paths.PromptsDir, c.logger) }

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the built-in prompts for roles without a prompt file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			if err := d.WriteDefaults(); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "prompts ready in %s\n", d.Root())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles with their prompt size and archived versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range prompts.Roles {
				text, err := d.Get(cmd.Context(), r)
				if err != nil {
					return err
				}
				versions, err := d.Versions(r)
				if err != nil {
					return err
				}
				source := "built-in"
				if _, err := os.Stat(filepath.Join(d.Root(), r.FileName())); err == nil {
					source = r.FileName()
				}
				printf(out, "%-14s %6d bytes  %2d archived  %s\n", r, len(text), len(versions), source)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <role>",
		Short: "Print the current prompt of a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := prompts.ParseRole(args[0])
			if err != nil {
				return err
			}
			d, err := open()
			if err != nil {
				return err
			}
			text, err := d.Get(cmd.Context(), role)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", text)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <role>",
		Short: "List archived versions of a role's prompt, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := prompts.ParseRole(args[0])
			if err != nil {
				return err
			}
			d, err := open()
			if err != nil {
				return err
			}
			versions, err := d.Versions(role)
			if err != nil {
				return err
			}
			for _, v := range versions {
				printf(cmd.OutOrStdout(), "%s\n", v)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <role> <file>",
		Short: "Replace a role's prompt with the contents of file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := prompts.ParseRole(args[0])
			if err != nil {
				return err
			}
			text, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			d, err := open()
			if err != nil {
				return err
			}
			return d.Replace(cmd.Context(), role, string(text))
		},
	})
	return cmd
}
