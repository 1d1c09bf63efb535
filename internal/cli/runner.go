package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/ui"
)

// Options tune output behavior from root flags.
type Options struct {
	Group      bool   // list grouped by pending/done
	ConfigPath string // explicit config file, replaces the global/project files
	Theme      string // overrides the configured theme
}

// usageError means the command line itself was wrong; it exits 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, a ...any) error {
	return usageError{msg: fmt.Sprintf(format, a...)}
}

// Run executes the command line and returns an exit code (0 ok, 1 error,
// 2 usage or not signed in).
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRoot()
	root.SetArgs(args)
	root.SetOut(ui.Out)
	root.SetErr(ui.Err)
	err := root.ExecuteContext(ctx)
	glog.Flush()
	if err == nil {
		return 0
	}
	ui.Fail(err.Error())
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(ui.Err)
		root.Usage()
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	switch errs.CodeOf(err) {
	case errs.Validation, errs.Authentication:
		return 2
	}
	return 1
}

func NewRoot() *cobra.Command {
	opt := &Options{}
	root := &cobra.Command{
		Use:   "todo",
		Short: "todo - personal tasks, synced",
		Long: `todo keeps your personal task list and profile in a shared store.

Sign in with "todo auth login", then add, toggle and remove tasks from
the command line or the interactive list ("todo ls"). Other sessions of
the same user see every change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown subcommand: %s", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("missing subcommand")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its settings from the Go flag set
			if !flag.Parsed() {
				flag.CommandLine.Parse(nil)
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.BoolVar(&opt.Group, "group", false, "group output by pending/done")
	pf.StringVar(&opt.ConfigPath, "config", "", "config file (default ~/.tada/config.yaml + ./.tada/config.yaml)")
	pf.StringVar(&opt.Theme, "theme", "", "output theme: classic, neon or mono")
	pf.AddGoFlagSet(flag.CommandLine)

	root.AddCommand(
		lsCmd(opt),
		listCmd(opt),
		addCmd(opt),
		doneCmd(opt),
		editCmd(opt),
		rmCmd(opt),
		profileCmd(opt),
		authCmd(opt),
		serveCmd(opt),
		watchCmd(opt),
	)
	return root
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("usage: todo %s", usage)
		}
		return nil
	}
}

func minArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usagef("usage: todo %s", usage)
		}
		return nil
	}
}
