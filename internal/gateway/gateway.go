// Package gateway defines the contract between the sync layer and the
// remote store: who is signed in, owner-scoped reads and writes, and
// push notifications for rows a given owner owns.
//
// Implementations live in internal/store (SQLite, HTTP) and internal/auth
// (identity). The sync layer only ever sees these interfaces.
package gateway

import (
	"context"
	"fmt"

	"github.com/Makepad-fr/tada/internal/model"
)

// Kind names an entity table.
type Kind string

const (
	KindTasks    Kind = "tasks"
	KindProfiles Kind = "profiles"
)

// Op is the kind of write a Change reports.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is a push notification: some row owned by Owner changed.
// Consumers are expected to re-read rather than apply it.
type Change struct {
	Kind  Kind   `json:"kind"`
	Op    Op     `json:"op"`
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// Order is a single-column sort.
type Order struct {
	Column     string
	Descending bool
}

// NewestFirst orders rows by creation time, most recent first.
var NewestFirst = Order{Column: "created_at", Descending: true}

func (o Order) String() string {
	if o.Column == "" {
		return ""
	}
	dir := "asc"
	if o.Descending {
		dir = "desc"
	}
	return fmt.Sprintf("%s.%s", o.Column, dir)
}

// ParseOrder reverses Order.String.
func ParseOrder(s string) (Order, error) {
	if s == "" {
		return Order{}, nil
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != '.' {
			continue
		}
		switch s[i+1:] {
		case "asc":
			return Order{Column: s[:i]}, nil
		case "desc":
			return Order{Column: s[:i], Descending: true}, nil
		}
		break
	}
	return Order{}, fmt.Errorf("bad order %q", s)
}

// Subscription is a live push-notification registration. Release is
// idempotent. A callback that was already running may still finish after
// Release returns, so consumers check their own scope before acting.
//
// Done is closed once no more notifications will arrive: after Release,
// or when the store side ended the subscription (a dropped connection).
type Subscription interface {
	Release()
	Done() <-chan struct{}
}

// Table is one owner-scoped entity collection at the store. R is the row
// type, P the partial-update type.
//
// Update and Delete are scoped to owner: the store refuses to touch a
// row the owner does not own and reports errs.Authorization.
type Table[R any, P any] interface {
	ReadAll(ctx context.Context, owner string, order Order) ([]R, error)
	// Upsert creates row, or when a row with the same conflictKey
	// exists, refreshes its session-derived fields and returns it.
	Upsert(ctx context.Context, row R, conflictKey string) (R, error)
	Insert(ctx context.Context, row R) (R, error)
	Update(ctx context.Context, id, owner string, patch P) (R, error)
	Delete(ctx context.Context, id, owner string) error
	Subscribe(ctx context.Context, owner string, onChange func(Change)) (Subscription, error)
}

// IdentitySource knows who is signed in.
type IdentitySource interface {
	// CurrentIdentity returns nil when nobody is signed in.
	CurrentIdentity(ctx context.Context) (*model.Identity, error)
	// OnIdentityChange registers fn for every sign-in, sign-out and
	// token refresh. The returned func unregisters it.
	OnIdentityChange(fn func(*model.Identity)) (unsubscribe func())
}

type TaskTable = Table[model.Task, model.TaskPatch]
type ProfileTable = Table[model.Profile, model.ProfilePatch]

// Gateway is everything the sync layer needs from the remote store.
type Gateway interface {
	IdentitySource
	Tasks() TaskTable
	Profiles() ProfileTable
}

// Remote joins an identity source with the two tables. It is constructed
// once at start-up and passed to every store.
type Remote struct {
	IdentitySource
	tasks    TaskTable
	profiles ProfileTable
}

func New(ids IdentitySource, tasks TaskTable, profiles ProfileTable) *Remote {
	return &Remote{
		IdentitySource: ids,
		tasks:          tasks,
		profiles:       profiles,
	}
}

func (r *Remote) Tasks() TaskTable       { return r.tasks }
func (r *Remote) Profiles() ProfileTable { return r.profiles }
