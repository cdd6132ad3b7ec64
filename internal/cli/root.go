package cli

import (
	"bufio"
	"context"

	"github.com/dmitrijs2005/gophdirectory/internal/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Token string
}

// NewRootCommand creates the root command. Every subcommand runs against an
// App built by opener and signed in before the command body runs.
func NewRootCommand(cfg *config.Config, opener Opener) *cobra.Command {
	opts := &RootOptions{}
	var app *App

	cmd := &cobra.Command{
		Use:           "directory",
		Short:         "Directory client",
		Long:          "Resolve contacts and groups, manage memberships and watch directory events.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsSession(cmd) {
				return nil
			}
			a, err := opener(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			a.out = cmd.OutOrStdout()
			if err := a.SignIn(cmd.Context(), opts.Token); err != nil {
				_ = a.Close()
				return err
			}
			app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app == nil {
				return nil
			}
			return app.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "access token (prompted when empty)")

	current := func() *App { return app }

	cmd.AddCommand(idCommand("contact", "Show a contact", current, (*App).Contact))
	cmd.AddCommand(idCommand("group", "Show a group", current, (*App).Group))
	cmd.AddCommand(idCommand("members", "List the members of a group", current, (*App).Members))
	cmd.AddCommand(idCommand("block", "Add a contact to the block list", current, (*App).Block))
	cmd.AddCommand(idCommand("unblock", "Remove a contact from the block list", current, (*App).Unblock))
	cmd.AddCommand(idCommand("leave", "Quit a group", current, (*App).Leave))

	cmd.AddCommand(&cobra.Command{
		Use:   "groups",
		Short: "List my groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return current().Groups(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remark <id> [name]",
		Short: "Set or clear the remark name of a contact",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			if len(args) == 2 {
				return a.Remark(cmd.Context(), args[0], args[1])
			}
			remark, err := GetSimpleText(a.reader, "Remark name (empty clears):", a.out)
			if err != nil {
				return err
			}
			return a.Remark(cmd.Context(), args[0], remark)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print directory events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return current().Watch(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			printlnFn("Directory shell (type 'help' for commands)")
			runREPL(cmd.Context(), a, a.status, bufio.NewScanner(a.reader))
			return nil
		},
	})

	return cmd
}

func idCommand(use, short string, current func() *App, run func(*App, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(current(), cmd.Context(), args[0])
		},
	}
}

// needsSession reports whether cmd talks to the directory. Help and shell
// completion do not.
func needsSession(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "__complete":
			return false
		}
	}
	return true
}
