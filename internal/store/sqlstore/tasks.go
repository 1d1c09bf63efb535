package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

const taskColumns = `id, title, completed, user_id, created_at, updated_at`

var taskOrderColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"title":      true,
	"completed":  true,
}

// Tasks implements gateway.TaskTable.
type Tasks struct {
	d *DB
}

var _ gateway.TaskTable = (*Tasks)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (model.Task, error) {
	var (
		t                model.Task
		created, updated string
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Completed, &t.Owner, &created, &updated); err != nil {
		return model.Task{}, err
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return model.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *Tasks) ReadAll(ctx context.Context, owner string, order gateway.Order) ([]model.Task, error) {
	if owner == "" {
		return nil, errs.E(errs.Authentication, "read tasks", "no owner")
	}
	orderBy, err := orderClause(taskOrderColumns, order.Column, order.Descending)
	if err != nil {
		return nil, err
	}
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ?`+orderBy, owner)
	if err != nil {
		return nil, storeErr("read tasks", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr("read tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read tasks", err)
	}
	return tasks, nil
}

func validTitle(op, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errs.E(errs.Validation, op, "title is empty")
	}
	return title, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Insert assigns id and timestamps. Owner must be set.
func (s *Tasks) Insert(ctx context.Context, row model.Task) (model.Task, error) {
	if row.Owner == "" {
		return model.Task{}, errs.E(errs.Authentication, "insert task", "no owner")
	}
	title, err := validTitle("insert task", row.Title)
	if err != nil {
		return model.Task{}, err
	}
	now := s.d.stamp()
	t, err := scanTask(s.d.db.QueryRowContext(ctx,
		`INSERT INTO tasks (id, title, completed, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+taskColumns,
		uuid.NewString(), title, boolInt(row.Completed), row.Owner, now, now))
	if err != nil {
		return model.Task{}, storeErr("insert task", err)
	}
	s.d.hub.publish(gateway.Change{Kind: gateway.KindTasks, Op: gateway.OpInsert, ID: t.ID, Owner: t.Owner})
	return t, nil
}

// Upsert keys on id only. A conflicting row owned by someone else is left
// alone and reported as an authorization failure.
func (s *Tasks) Upsert(ctx context.Context, row model.Task, conflictKey string) (model.Task, error) {
	if conflictKey != "id" {
		return model.Task{}, errs.Errorf(errs.Validation, "upsert task", "unsupported conflict key %q", conflictKey)
	}
	if row.Owner == "" {
		return model.Task{}, errs.E(errs.Authentication, "upsert task", "no owner")
	}
	title, err := validTitle("upsert task", row.Title)
	if err != nil {
		return model.Task{}, err
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.d.stamp()
	t, err := scanTask(s.d.db.QueryRowContext(ctx,
		`INSERT INTO tasks (id, title, completed, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			completed = excluded.completed,
			updated_at = excluded.updated_at
		 WHERE tasks.user_id = excluded.user_id
		 RETURNING `+taskColumns,
		row.ID, title, boolInt(row.Completed), row.Owner, now, now))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, errs.Errorf(errs.Authorization, "upsert task", "task %s belongs to another user", row.ID)
	}
	if err != nil {
		return model.Task{}, storeErr("upsert task", err)
	}
	op := gateway.OpUpdate
	if t.CreatedAt.Equal(t.UpdatedAt) && t.CreatedAt.Format(tsLayout) == now {
		op = gateway.OpInsert
	}
	s.d.hub.publish(gateway.Change{Kind: gateway.KindTasks, Op: op, ID: t.ID, Owner: t.Owner})
	return t, nil
}

// Update applies patch to the owner's task and re-stamps updated_at.
func (s *Tasks) Update(ctx context.Context, id, owner string, patch model.TaskPatch) (model.Task, error) {
	if owner == "" {
		return model.Task{}, errs.E(errs.Authentication, "update task", "no owner")
	}
	if patch.Empty() {
		return model.Task{}, errs.E(errs.Validation, "update task", "nothing to update")
	}
	var title, completed any
	if patch.Title != nil {
		v, err := validTitle("update task", *patch.Title)
		if err != nil {
			return model.Task{}, err
		}
		title = v
	}
	if patch.Completed != nil {
		completed = boolInt(*patch.Completed)
	}
	t, err := scanTask(s.d.db.QueryRowContext(ctx,
		`UPDATE tasks SET
			title = COALESCE(?, title),
			completed = COALESCE(?, completed),
			updated_at = ?
		 WHERE id = ? AND user_id = ?
		 RETURNING `+taskColumns,
		title, completed, s.d.stamp(), id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, errs.Errorf(errs.Authorization, "update task", "no task %s owned by caller", id)
	}
	if err != nil {
		return model.Task{}, storeErr("update task", err)
	}
	s.d.hub.publish(gateway.Change{Kind: gateway.KindTasks, Op: gateway.OpUpdate, ID: t.ID, Owner: t.Owner})
	return t, nil
}

// Delete removes the owner's task. Deleting a task that does not exist
// succeeds; deleting someone else's does not.
func (s *Tasks) Delete(ctx context.Context, id, owner string) error {
	if owner == "" {
		return errs.E(errs.Authentication, "delete task", "no owner")
	}
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete task", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return storeErr("delete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete task", err)
	}
	if n == 0 {
		var other string
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM tasks WHERE id = ?`, id).Scan(&other)
		if err == nil {
			return errs.Errorf(errs.Authorization, "delete task", "task %s belongs to another user", id)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return storeErr("delete task", err)
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return storeErr("delete task", err)
	}
	s.d.hub.publish(gateway.Change{Kind: gateway.KindTasks, Op: gateway.OpDelete, ID: id, Owner: owner})
	return nil
}

func (s *Tasks) Subscribe(ctx context.Context, owner string, onChange func(gateway.Change)) (gateway.Subscription, error) {
	if owner == "" {
		return nil, errs.E(errs.Authentication, "subscribe tasks", "no owner")
	}
	return s.d.hub.subscribe(gateway.KindTasks, owner, onChange), nil
}
