package cli

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/server"
	"github.com/Makepad-fr/tada/internal/store/sqlstore"
	"github.com/Makepad-fr/tada/internal/ui"
)

func serveCmd(opt *Options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share the local store over HTTP with other sessions",
		Args:  exactArgs(0, "serve"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			if cfg.Secret == "" {
				return fmt.Errorf("serve: no secret configured, set `secret` in the config or TADA_SECRET")
			}
			if listen == "" {
				listen = cfg.Listen
			}
			db, err := sqlstore.Open(cfg.DataPath)
			if err != nil {
				return err
			}
			defer db.Close()

			srv, err := server.New(db.Tasks(), db.Profiles(), []byte(cfg.Secret))
			if err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("serving %s on http://%s", cfg.DataPath, listen))
			return srv.ListenAndServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default: listen from the config)")
	return cmd
}

// watchCmd prints change notifications for the signed-in user until
// interrupted.
func watchCmd(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream change notifications for your tasks and profile",
		Args:  exactArgs(0, "watch"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opt)
			if err != nil {
				return err
			}
			if cfg.Mode != config.ModeRemote {
				// the local store only notifies within one process
				return usagef("watch needs mode: remote")
			}
			a, err := openApp(ctx, opt)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.identity()
			if err != nil {
				return err
			}
			t := ui.Current()
			show := func(c gateway.Change) {
				ui.Println(ui.Dim(time.Now().Format("15:04:05")),
					ui.C(t.Accent, string(c.Kind)), ui.C(t.Pending, string(c.Op)), c.ID)
			}
			taskSub, err := a.gw.Tasks().Subscribe(ctx, id.ID, show)
			if err != nil {
				return err
			}
			defer taskSub.Release()
			profileSub, err := a.gw.Profiles().Subscribe(ctx, id.ID, show)
			if err != nil {
				return err
			}
			defer profileSub.Release()

			ui.OK("watching changes for " + describe(id) + ", ctrl-c to stop")
			select {
			case <-ctx.Done():
				glog.V(2).Infof("[watch]stopped")
				return nil
			case <-taskSub.Done():
			case <-profileSub.Done():
			}
			return errs.E(errs.Network, "watch", "change feed closed by the server")
		},
	}
}
