// Package planparse turns a markdown implementation plan into task drafts.
//
// A task starts at a line of the form
//
//	### Task <n>: <title>
//
// and runs until the next such line. Headings inside ``` fences are ignored;
// an opening fence may carry an info string such as ```go.
package planparse

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"phaseline/internal/domain"
)

var headingRe = regexp.MustCompile(`^### Task (\d+): (.+)$`)

const fence = "```"

// Parse returns the tasks in document order. Numbers are not checked for
// uniqueness or ordering. Text with no task headings yields no tasks.
func Parse(markdown string) []domain.TaskDraft {
	var (
		tasks   []domain.TaskDraft
		current *domain.TaskDraft
		body    []string
		inFence bool
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.TrimSpace(strings.Join(body, "\n"))
		tasks = append(tasks, *current)
		current = nil
		body = nil
	}

	sc := bufio.NewScanner(strings.NewReader(markdown))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			inFence = !inFence
		} else if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				n, err := strconv.Atoi(m[1])
				if err == nil {
					flush()
					current = &domain.TaskDraft{Number: n, Title: strings.TrimSpace(m[2])}
					continue
				}
			}
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return tasks
}

// ParseFile reads and parses a plan file.
func ParseFile(path string) ([]domain.TaskDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data)), nil
}
