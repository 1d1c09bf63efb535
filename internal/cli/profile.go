package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/ui"
)

func profileCmd(opt *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your profile",
		Args:  exactArgs(0, "profile"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.identity(); err != nil {
				return err
			}
			if err := a.profile.Reload(cmd.Context()); err != nil {
				return err
			}
			p := a.profile.Profile()
			t := ui.Current()
			name := p.DisplayName()
			if name == "" {
				name = ui.C(t.Muted, "(none)")
			}
			ui.Panel([]string{
				ui.C(t.Title, "Profile"),
				"",
				fmt.Sprintf("%s %s", ui.C(t.Accent, "email   "), p.Email),
				fmt.Sprintf("%s %s", ui.C(t.Accent, "username"), name),
				fmt.Sprintf("%s %s", ui.C(t.Accent, "id      "), ui.C(t.Muted, p.ID)),
			})
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-username <name...>",
		Short: "Change your username",
		Args:  minArgs(1, "profile set-username <name...>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opt)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.tracker.Identity() != nil {
				// the profile row is created on first read
				if err := a.profile.Reload(cmd.Context()); err != nil {
					return err
				}
			}
			p, err := a.profile.UpdateUsername(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("username is now %q", p.DisplayName()))
			return nil
		},
	})
	return cmd
}
