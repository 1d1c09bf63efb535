package syncstore

import (
	"context"
	"strings"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

// TaskStore is the local, newest-first list of the signed-in user's tasks.
type TaskStore struct {
	*replica[[]model.Task]
	table gateway.TaskTable
}

func NewTaskStore(gw gateway.Gateway, tracker *SessionTracker, opts ...Option) *TaskStore {
	s := &TaskStore{table: gw.Tasks()}
	s.replica = newReplica("tasks", tracker,
		func() []model.Task { return []model.Task{} },
		s.fetch,
		s.table.Subscribe,
		opts)
	s.attach()
	return s
}

func (s *TaskStore) fetch(ctx context.Context, id model.Identity) ([]model.Task, error) {
	rows, err := s.table.ReadAll(ctx, id.ID, gateway.NewestFirst)
	if err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, len(rows))
	for _, t := range rows {
		if t.Owner != id.ID {
			glog.Warningf("[tasks]store returned task %s owned by %s, dropping", t.ID, t.Owner)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Tasks returns a copy of the current list.
func (s *TaskStore) Tasks() []model.Task {
	data, _ := s.snapshot()
	out := make([]model.Task, len(data))
	copy(out, data)
	return out
}

// Get returns the local entry with id.
func (s *TaskStore) Get(id string) (model.Task, bool) {
	data, _ := s.snapshot()
	for _, t := range data {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

// Add creates a task and puts the stored row at the front of the list.
// Adding without an identity is rejected before anything is sent.
func (s *TaskStore) Add(ctx context.Context, title string) (model.Task, error) {
	const op = "add task"
	sc, err := s.begin(op, errs.Validation)
	if err != nil {
		return model.Task{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Task{}, s.fail(op, errs.E(errs.Validation, "", "title is empty"))
	}
	owner := sc.identity.ID

	created, err := s.table.Insert(ctx, model.Task{Title: title, Owner: owner})
	if err == nil && created.Owner != owner {
		err = errs.Errorf(errs.Authorization, "", "store returned a task owned by %s", created.Owner)
	}
	err = s.commit(op, sc, err, func(tasks []model.Task) []model.Task {
		out := make([]model.Task, 0, len(tasks)+1)
		out = append(out, created)
		for _, t := range tasks {
			// a reload may have delivered it already
			if t.ID != created.ID {
				out = append(out, t)
			}
		}
		return out
	})
	if err != nil {
		return model.Task{}, err
	}
	return created, nil
}

// Update applies patch remotely and replaces the matching entry with the
// stored row.
func (s *TaskStore) Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	const op = "update task"
	sc, err := s.begin(op, errs.Authentication)
	if err != nil {
		return model.Task{}, err
	}
	if patch.Empty() {
		return model.Task{}, s.fail(op, errs.E(errs.Validation, "", "nothing to update"))
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return model.Task{}, s.fail(op, errs.E(errs.Validation, "", "title is empty"))
		}
		patch.Title = &title
	}

	updated, err := s.table.Update(ctx, id, sc.identity.ID, patch)
	err = s.commit(op, sc, err, func(tasks []model.Task) []model.Task {
		out := make([]model.Task, len(tasks))
		for i, t := range tasks {
			if t.ID == id {
				t = updated
			}
			out[i] = t
		}
		return out
	})
	if err != nil {
		return model.Task{}, err
	}
	return updated, nil
}

// ToggleCompleted flips the completion flag of the local entry with id.
// With no such entry it does nothing and returns ok == false.
func (s *TaskStore) ToggleCompleted(ctx context.Context, id string) (task model.Task, ok bool, err error) {
	current, found := s.Get(id)
	if !found {
		return model.Task{}, false, nil
	}
	task, err = s.Update(ctx, id, model.SetCompleted(!current.Completed))
	return task, err == nil, err
}

// Remove deletes the task remotely, then drops the local entry.
func (s *TaskStore) Remove(ctx context.Context, id string) error {
	const op = "delete task"
	sc, err := s.begin(op, errs.Authentication)
	if err != nil {
		return err
	}
	err = s.table.Delete(ctx, id, sc.identity.ID)
	return s.commit(op, sc, err, func(tasks []model.Task) []model.Task {
		out := make([]model.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.ID != id {
				out = append(out, t)
			}
		}
		return out
	})
}
