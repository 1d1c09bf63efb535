package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/tui"
	"github.com/Makepad-fr/tada/internal/ui"
)

func lsCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Interactive list (a add, e edit, space toggle, d delete, u undo, r refresh, p username, L sign out)",
		Args:  exactArgs(0, "ls"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			// pick up logins and logouts made from other terminals
			go a.session.Watch(cmd.Context(), 2*time.Second)
			return tui.Run(a.tasks, a.profile, tui.Options{SignOut: a.session.SignOut})
		},
	}
}

func listCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print tasks with counts and progress",
		Args:  exactArgs(0, "list"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.loadTasks(cmd.Context())
			if err != nil {
				return err
			}
			d, p := model.Stats(tasks)
			lines := []string{
				ui.Header("Tasks", tasks),
				ui.C(ui.Current().Muted, ui.ProgressBar(d, d+p, 28)),
				"",
			}
			if opt.Group {
				lines = append(lines, ui.GroupedLines(tasks)...)
			} else {
				lines = append(lines, ui.TaskLines(tasks, nil)...)
			}
			lines = append(lines, "", ui.C(ui.Current().Muted, "Tip: add with `todo add \"Buy milk\"`"))
			ui.Panel(lines)
			return nil
		},
	}
}

func addCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title...>",
		Short: "Add a task (title can be multiple words)",
		Args:  minArgs(1, "add <title...>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tasks.Add(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("added %q", t.Title))
			return nil
		},
	}
}

func doneCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "done <index>",
		Short: "Toggle done for the task at 1-based index",
		Args:  exactArgs(1, "done <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.taskAt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updated, ok, err := a.tasks.ToggleCompleted(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %q is gone", t.Title)
			}
			state := "pending"
			if updated.Completed {
				state = "done"
			}
			ui.OK(fmt.Sprintf("%q marked %s", updated.Title, state))
			return nil
		},
	}
}

func editCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <index> <title...>",
		Short: "Rename the task at 1-based index",
		Args:  minArgs(2, "edit <index> <title...>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.taskAt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updated, err := a.tasks.Update(cmd.Context(), t.ID, model.SetTitle(strings.Join(args[1:], " ")))
			if err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("renamed to %q", updated.Title))
			return nil
		},
	}
}

func rmCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <index>",
		Short: "Remove the task at 1-based index",
		Args:  exactArgs(1, "rm <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.taskAt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.tasks.Remove(cmd.Context(), t.ID); err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("removed %q", t.Title))
			return nil
		},
	}
}
