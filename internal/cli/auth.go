package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/ui"
)

// identityFor names an email user with a stable id, so logging in twice
// with the same email reaches the same tasks.
func identityFor(email, sub string) (model.Identity, error) {
	email = strings.TrimSpace(email)
	if sub == "" {
		if email == "" {
			return model.Identity{}, usagef("an email or --sub is required")
		}
		sub = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(email))).String()
	}
	return model.Identity{ID: sub, Email: email}, nil
}

func issue(cfg *config.Config, email, sub string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("no secret configured, set `secret` in the config or TADA_SECRET")
	}
	id, err := identityFor(email, sub)
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = cfg.TokenTTL
	}
	return auth.Issue([]byte(cfg.Secret), id, ttl)
}

func authCmd(opt *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in, sign out and inspect the session",
	}

	var email string
	login := &cobra.Command{
		Use:   "login [token]",
		Short: "Sign in with a token, or mint one for --email with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			var token string
			switch {
			case len(args) == 1 && email == "":
				token = args[0]
			case len(args) == 0 && email != "":
				if token, err = issue(cfg, email, "", 0); err != nil {
					return err
				}
			default:
				return usagef("usage: todo auth login <token> | --email <address>")
			}
			id, err := newSession(cfg).SignIn(token)
			if err != nil {
				return err
			}
			ui.OK("signed in as " + describe(id))
			return nil
		},
	}
	login.Flags().StringVar(&email, "email", "", "mint and store a token for this address")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  exactArgs(0, "auth logout"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			if err := newSession(cfg).SignOut(); err != nil {
				return err
			}
			ui.OK("signed out")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show where the token comes from and when it expires",
		Args:  exactArgs(0, "auth status"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			creds := auth.Credentials{Dir: cfg.CredentialsDir}
			ti, err := creds.Load()
			if err != nil {
				return err
			}
			t := ui.Current()
			if ti == nil {
				ui.Panel([]string{ui.C(t.Pending, "not signed in"), ui.C(t.Muted, "run `todo auth login`")})
				return nil
			}
			id, _ := newSession(cfg).CurrentIdentity(cmd.Context())
			who := ui.C(t.Error, "token rejected")
			if id != nil {
				who = describe(id)
			}
			expires := "never"
			if ti.ExpiresAt != nil {
				expires = ti.ExpiresAt.Local().Format(time.RFC1123)
				if ti.ExpiresAt.Before(time.Now()) {
					expires = ui.C(t.Error, expires+" (expired)")
				}
			}
			ui.Panel([]string{
				ui.C(t.Title, "Session"),
				"",
				fmt.Sprintf("%s %s", ui.C(t.Accent, "user   "), who),
				fmt.Sprintf("%s %s", ui.C(t.Accent, "source "), ti.Source),
				fmt.Sprintf("%s %s", ui.C(t.Accent, "expires"), expires),
			})
			return nil
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Print the token's claims",
		Args:  exactArgs(0, "auth whoami"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			ti, err := auth.Credentials{Dir: cfg.CredentialsDir}.Load()
			if err != nil {
				return err
			}
			if ti == nil {
				return errs.E(errs.Authentication, "", "not signed in, run `todo auth login`")
			}
			_, claims, err := auth.ParseUnverified(ti.Token)
			if err != nil {
				return err
			}
			ui.Println("sub:  ", claims.Subject)
			ui.Println("email:", claims.Email)
			if claims.IssuedAt != nil {
				ui.Println("iat:  ", claims.IssuedAt.Time.Format(time.RFC3339))
			}
			if exp := claims.Expiry(); exp != nil {
				ui.Println("exp:  ", exp.Format(time.RFC3339))
			}
			return nil
		},
	}

	var (
		sub string
		ttl time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue <email>",
		Short: "Mint a token with the configured secret and print it",
		Args:  exactArgs(1, "auth issue <email>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			token, err := issue(cfg, args[0], sub, ttl)
			if err != nil {
				return err
			}
			ui.Println(token)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&sub, "sub", "", "subject (default: derived from the email)")
	issueCmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default: token_ttl from the config)")

	cmd.AddCommand(login, logout, status, whoami, issueCmd)
	return cmd
}

func describe(id *model.Identity) string {
	if id.Email == "" {
		return id.ID
	}
	return fmt.Sprintf("%s (%s)", id.Email, id.ID)
}
