package cli

import (
	"context"
	"strconv"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store/httpstore"
	"github.com/Makepad-fr/tada/internal/store/sqlstore"
	"github.com/Makepad-fr/tada/internal/syncstore"
	"github.com/Makepad-fr/tada/internal/ui"
)

// loadConfig reads the configuration and applies the theme.
func loadConfig(opt *Options) (*config.Config, error) {
	cfg, err := config.Load(opt.ConfigPath)
	if err != nil {
		return nil, err
	}
	theme := cfg.Theme
	if opt.Theme != "" {
		theme = opt.Theme
	}
	if err := ui.SetTheme(theme); err != nil {
		return nil, usageError{msg: err.Error()}
	}
	return cfg, nil
}

func newSession(cfg *config.Config) *auth.Session {
	return auth.NewSession(auth.Credentials{Dir: cfg.CredentialsDir}, []byte(cfg.Secret))
}

// app is everything a command needs to read or change tasks.
type app struct {
	cfg     *config.Config
	session *auth.Session
	gw      gateway.Gateway
	tracker *syncstore.SessionTracker
	tasks   *syncstore.TaskStore
	profile *syncstore.ProfileStore
	closers []func()
}

func openApp(ctx context.Context, opt *Options) (*app, error) {
	cfg, err := loadConfig(opt)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, session: newSession(cfg)}

	var (
		tasks    gateway.TaskTable
		profiles gateway.ProfileTable
	)
	switch cfg.Mode {
	case config.ModeRemote:
		c, err := httpstore.New(cfg.ServerURL, a.session)
		if err != nil {
			return nil, err
		}
		tasks, profiles = c.Tasks(), c.Profiles()
		glog.Infof("[app]remote store %s", cfg.ServerURL)
	default:
		db, err := sqlstore.Open(cfg.DataPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		tasks, profiles = db.Tasks(), db.Profiles()
		glog.Infof("[app]local store %s", cfg.DataPath)
	}

	a.gw = gateway.New(a.session, tasks, profiles)
	a.tracker = syncstore.NewSessionTracker(a.gw)
	a.tracker.Start(ctx)
	a.tasks = syncstore.NewTaskStore(a.gw, a.tracker)
	a.profile = syncstore.NewProfileStore(a.gw, a.tracker)
	return a, nil
}

func (a *app) Close() {
	a.tasks.Close()
	a.profile.Close()
	a.tracker.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) identity() (*model.Identity, error) {
	id := a.tracker.Identity()
	if id == nil {
		return nil, errs.E(errs.Authentication, "", "not signed in, run `todo auth login`")
	}
	return id, nil
}

// loadTasks signs-in-checks and reads the current list once.
func (a *app) loadTasks(ctx context.Context) ([]model.Task, error) {
	if _, err := a.identity(); err != nil {
		return nil, err
	}
	if err := a.tasks.Reload(ctx); err != nil {
		return nil, err
	}
	return a.tasks.Tasks(), nil
}

// taskAt resolves a 1-based index into the newest-first list.
func (a *app) taskAt(ctx context.Context, arg string) (model.Task, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return model.Task{}, usagef("not a number: %s", arg)
	}
	tasks, err := a.loadTasks(ctx)
	if err != nil {
		return model.Task{}, err
	}
	if n < 1 || n > len(tasks) {
		ui.Hint("run `todo list` to see valid indexes")
		return model.Task{}, usagef("index out of range: have %d, got %d", len(tasks), n)
	}
	return tasks[n-1], nil
}
