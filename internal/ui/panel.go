package ui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Makepad-fr/tada/internal/model"
)

var ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRegexp.ReplaceAllString(s, "") }

// ProgressBar renders a Unicode progress bar with percentage.
func ProgressBar(done, total, width int) string {
	if total <= 0 {
		total = 1
	}
	if width < 5 {
		width = 5
	}
	filled := int(float64(done) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	pct := int(float64(done) / float64(total) * 100)
	return fmt.Sprintf("%s %3d%%", bar, pct)
}

// Panel draws a framed box using the current theme.
func Panel(lines []string) {
	t := Current()
	maxw := 0
	for _, ln := range lines {
		w := len([]rune(stripANSI(ln)))
		if w > maxw {
			maxw = w
		}
	}
	pad := func(s string) string {
		vis := len([]rune(stripANSI(s)))
		if vis < maxw {
			s = s + strings.Repeat(" ", maxw-vis)
		}
		return s
	}
	fmt.Fprintln(Out, t.CornerTL+strings.Repeat(t.H, maxw+2)+t.CornerTR)
	for _, ln := range lines {
		fmt.Fprintln(Out, t.V+" "+pad(ln)+" "+t.V)
	}
	fmt.Fprintln(Out, t.CornerBL+strings.Repeat(t.H, maxw+2)+t.CornerBR)
}

// Header is the one-line summary above a task list.
func Header(title string, tasks []model.Task) string {
	d, p := model.Stats(tasks)
	t := Current()
	return fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		C(t.Title, title),
		C(t.Success, t.SymDone), d,
		C(t.Pending, t.SymUnchecked), p,
		C(t.Accent, "Total"), len(tasks),
	)
}

// TaskLines renders tasks as numbered checkbox lines. Numbers are the
// 1-based positions in the newest-first list, as `todo done` expects.
func TaskLines(tasks []model.Task, index func(model.Task) int) []string {
	t := Current()
	if len(tasks) == 0 {
		return []string{C(t.Muted, "no tasks")}
	}
	out := make([]string, 0, len(tasks))
	for i, task := range tasks {
		n := i + 1
		if index != nil {
			n = index(task)
		}
		box, color := t.BoxUnchecked, t.Muted
		if task.Completed {
			box, color = t.BoxChecked, t.Success
		}
		title := task.Title
		if r := []rune(title); len(r) > 80 {
			title = string(r[:77]) + "..."
		}
		out = append(out, fmt.Sprintf("%s %s %s", Dim(fmt.Sprintf("%2d.", n)), C(color, box), title))
	}
	return out
}

// GroupedLines splits tasks into Pending and Done sections, keeping each
// task's list number.
func GroupedLines(tasks []model.Task) []string {
	t := Current()
	pos := make(map[string]int, len(tasks))
	var pend, done []model.Task
	for i, task := range tasks {
		pos[task.ID] = i + 1
		if task.Completed {
			done = append(done, task)
		} else {
			pend = append(pend, task)
		}
	}
	index := func(task model.Task) int { return pos[task.ID] }
	section := func(name string, ts []model.Task) []string {
		lines := []string{C(t.Accent, name)}
		if len(ts) == 0 {
			return append(lines, C(t.Muted, "(none)"))
		}
		return append(lines, TaskLines(ts, index)...)
	}
	lines := section("Pending", pend)
	lines = append(lines, "")
	return append(lines, section("Done", done)...)
}
