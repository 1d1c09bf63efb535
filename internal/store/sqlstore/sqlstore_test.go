package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

// tickingClock advances one millisecond per reading.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Memory, WithClock(tickingClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestTasksInsertAndReadNewestFirst(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	a, err := d.Tasks().Insert(ctx, model.Task{Title: "  A  ", Owner: "u1"})
	assert.Equal(t, err, nil)
	assert.Equal(t, "A", a.Title)
	assert.Equal(t, false, a.Completed)
	assert.NotEqual(t, "", a.ID)
	assert.Equal(t, a.CreatedAt, a.UpdatedAt)

	b, err := d.Tasks().Insert(ctx, model.Task{Title: "B", Owner: "u1"})
	assert.Equal(t, err, nil)
	_, err = d.Tasks().Insert(ctx, model.Task{Title: "other", Owner: "u2"})
	assert.Equal(t, err, nil)

	tasks, err := d.Tasks().ReadAll(ctx, "u1", gateway.NewestFirst)
	assert.Equal(t, err, nil)
	assert.Equal(t, 2, len(tasks))
	assert.Equal(t, b.ID, tasks[0].ID)
	assert.Equal(t, a.ID, tasks[1].ID)
	for _, task := range tasks {
		assert.Equal(t, "u1", task.Owner)
	}
}

func TestTasksTiesKeepInsertionOrder(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := Open(Memory, WithClock(func() time.Time { return fixed }))
	assert.Equal(t, err, nil)
	defer d.Close()
	ctx := context.Background()

	first, _ := d.Tasks().Insert(ctx, model.Task{Title: "first", Owner: "u1"})
	second, _ := d.Tasks().Insert(ctx, model.Task{Title: "second", Owner: "u1"})

	tasks, err := d.Tasks().ReadAll(ctx, "u1", gateway.NewestFirst)
	assert.Equal(t, err, nil)
	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)
}

func TestTasksInsertValidation(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	_, err := d.Tasks().Insert(ctx, model.Task{Title: "   ", Owner: "u1"})
	assert.Equal(t, errs.Validation, errs.CodeOf(err))

	_, err = d.Tasks().Insert(ctx, model.Task{Title: "x"})
	assert.Equal(t, errs.Authentication, errs.CodeOf(err))

	_, err = d.Tasks().ReadAll(ctx, "u1", gateway.Order{Column: "user_id; DROP TABLE tasks"})
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
}

func TestTasksUpdateIsOwnerScoped(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	task, _ := d.Tasks().Insert(ctx, model.Task{Title: "mine", Owner: "u1"})

	_, err := d.Tasks().Update(ctx, task.ID, "u2", model.SetCompleted(true))
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))

	updated, err := d.Tasks().Update(ctx, task.ID, "u1", model.SetCompleted(true))
	assert.Equal(t, err, nil)
	assert.Equal(t, true, updated.Completed)
	assert.Equal(t, "mine", updated.Title)
	assert.Equal(t, true, updated.UpdatedAt.After(task.UpdatedAt))
	assert.Equal(t, task.CreatedAt, updated.CreatedAt)

	renamed, err := d.Tasks().Update(ctx, task.ID, "u1", model.SetTitle(" renamed "))
	assert.Equal(t, err, nil)
	assert.Equal(t, "renamed", renamed.Title)
	assert.Equal(t, true, renamed.Completed)

	_, err = d.Tasks().Update(ctx, task.ID, "u1", model.TaskPatch{})
	assert.Equal(t, errs.Validation, errs.CodeOf(err))

	_, err = d.Tasks().Update(ctx, "missing", "u1", model.SetCompleted(true))
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))
}

func TestTasksDelete(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	task, _ := d.Tasks().Insert(ctx, model.Task{Title: "mine", Owner: "u1"})

	err := d.Tasks().Delete(ctx, task.ID, "u2")
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))

	assert.Equal(t, d.Tasks().Delete(ctx, task.ID, "u1"), nil)
	// already gone is fine
	assert.Equal(t, d.Tasks().Delete(ctx, task.ID, "u1"), nil)

	tasks, _ := d.Tasks().ReadAll(ctx, "u1", gateway.NewestFirst)
	assert.Equal(t, 0, len(tasks))
}

func TestTasksUpsert(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	created, err := d.Tasks().Upsert(ctx, model.Task{Title: "draft", Owner: "u1"}, "id")
	assert.Equal(t, err, nil)

	created.Title = "final"
	updated, err := d.Tasks().Upsert(ctx, created, "id")
	assert.Equal(t, err, nil)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "final", updated.Title)

	stolen := updated
	stolen.Owner = "u2"
	_, err = d.Tasks().Upsert(ctx, stolen, "id")
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))

	_, err = d.Tasks().Upsert(ctx, created, "title")
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
}

func TestProfileUpsertKeepsUsername(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	id := model.Identity{ID: "u1", Email: "ada@example.com"}

	p, err := d.Profiles().Upsert(ctx, model.DefaultProfile(id), "id")
	assert.Equal(t, err, nil)
	assert.Equal(t, "ada", p.DisplayName())

	name := "lovelace"
	_, err = d.Profiles().Update(ctx, "u1", "u1", model.ProfilePatch{Username: &name})
	assert.Equal(t, err, nil)

	again, err := d.Profiles().Upsert(ctx, model.DefaultProfile(id), "id")
	assert.Equal(t, err, nil)
	assert.Equal(t, "lovelace", again.DisplayName())
	assert.Equal(t, p.CreatedAt, again.CreatedAt)
}

func TestProfileConcurrentUpsertCreatesOneRow(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	id := model.Identity{ID: "fresh", Email: "new.user@example.com"}

	var wg sync.WaitGroup
	errsCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Profiles().Upsert(ctx, model.DefaultProfile(id), "id")
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		assert.Equal(t, err, nil)
	}

	rows, err := d.Profiles().ReadAll(ctx, "fresh", gateway.Order{})
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, "new.user", rows[0].DisplayName())
}

func TestProfileUpdateRules(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	_, _ = d.Profiles().Upsert(ctx, model.DefaultProfile(model.Identity{ID: "u1"}), "id")

	name := "x"
	_, err := d.Profiles().Update(ctx, "u1", "u2", model.ProfilePatch{Username: &name})
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))

	blank := "  "
	_, err = d.Profiles().Update(ctx, "u1", "u1", model.ProfilePatch{Username: &blank})
	assert.Equal(t, errs.Validation, errs.CodeOf(err))

	_, err = d.Profiles().Update(ctx, "u3", "u3", model.ProfilePatch{Username: &name})
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestSubscribeScopedToOwner(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []gateway.Change
	sub, err := d.Tasks().Subscribe(ctx, "u1", func(c gateway.Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, d.Subscribers(gateway.KindTasks, "u1"))

	task, _ := d.Tasks().Insert(ctx, model.Task{Title: "mine", Owner: "u1"})
	_, _ = d.Tasks().Insert(ctx, model.Task{Title: "theirs", Owner: "u2"})
	_, _ = d.Tasks().Update(ctx, task.ID, "u1", model.SetCompleted(true))
	_ = d.Tasks().Delete(ctx, task.ID, "u1")

	select {
	case <-sub.Done():
		t.Fatalf("done before release")
	default:
	}
	sub.Release()
	sub.Release()
	<-sub.Done()
	assert.Equal(t, 0, d.Subscribers(gateway.KindTasks, "u1"))
	_, _ = d.Tasks().Insert(ctx, model.Task{Title: "after release", Owner: "u1"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, len(got))
	assert.Equal(t, gateway.OpInsert, got[0].Op)
	assert.Equal(t, gateway.OpUpdate, got[1].Op)
	assert.Equal(t, gateway.OpDelete, got[2].Op)
	for _, c := range got {
		assert.Equal(t, "u1", c.Owner)
		assert.Equal(t, task.ID, c.ID)
	}
}

func TestProfileUpsertWithoutChangeIsSilent(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	id := model.Identity{ID: "u1", Email: "ada@example.com"}

	count := 0
	sub, _ := d.Profiles().Subscribe(ctx, "u1", func(gateway.Change) { count++ })
	defer sub.Release()

	_, _ = d.Profiles().Upsert(ctx, model.DefaultProfile(id), "id")
	_, _ = d.Profiles().Upsert(ctx, model.DefaultProfile(id), "id")
	assert.Equal(t, 1, count)

	id.Email = "ada@lovelace.dev"
	_, _ = d.Profiles().Upsert(ctx, model.DefaultProfile(id), "id")
	assert.Equal(t, 2, count)
}
