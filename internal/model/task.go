package model

import "time"

// Task is one entry of a user's personal list. ID, Owner and the
// timestamps are assigned by the store; clients only ever hold copies
// of what the store returned.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	Owner     string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Completed == nil
}

// SetCompleted returns a patch that only sets the completion flag.
func SetCompleted(done bool) TaskPatch {
	return TaskPatch{Completed: &done}
}

// SetTitle returns a patch that only renames the task.
func SetTitle(title string) TaskPatch {
	return TaskPatch{Title: &title}
}

// Stats counts done and pending tasks.
func Stats(tasks []Task) (done, pending int) {
	for _, t := range tasks {
		if t.Completed {
			done++
		} else {
			pending++
		}
	}
	return
}
