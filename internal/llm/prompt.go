// ABOUTME: Prompt composition for agent executions
// ABOUTME: Embeds agent identity and numbered tasks after stripping control characters

package llm

import (
	"fmt"
	"strings"
	"unicode"
)

// PromptInput is the agent snapshot a prompt is built from.
type PromptInput struct {
	Name      string
	Role      string
	Goal      string
	Backstory string
	Tasks     []string
}

// ComposePrompt renders the single prompt sent to the model. Tasks are expected
// to be pre-filtered; empty entries after sanitizing are skipped.
func ComposePrompt(in PromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s.\n\n", Sanitize(in.Name), Sanitize(in.Role))
	fmt.Fprintf(&b, "Background: %s\n\n", Sanitize(in.Backstory))
	fmt.Fprintf(&b, "Your Goal: %s\n\n", Sanitize(in.Goal))
	b.WriteString("You have been assigned the following tasks to complete:\n")

	n := 0
	for _, task := range in.Tasks {
		task = Sanitize(task)
		if task == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, task)
	}

	b.WriteString("\nPlease execute these tasks thoroughly and provide detailed results for each one. ")
	b.WriteString("Structure your response clearly, showing your work for each task.")

	return b.String()
}

// Sanitize removes control characters other than newline and tab, then trims
// surrounding whitespace. It narrows prompt injection tricks that rely on
// terminal escapes; it is not a security boundary.
func Sanitize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

// ValidTasks returns the trimmed, non-empty tasks in their original order.
func ValidTasks(tasks []string) []string {
	valid := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t = Sanitize(t); t != "" {
			valid = append(valid, t)
		}
	}
	return valid
}
