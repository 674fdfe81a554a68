package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholders understood by CommandTemplate.
const (
	PlaceholderID        = "id"
	PlaceholderJobDir    = "job_dir"
	PlaceholderVideo     = "video"
	PlaceholderPrompt    = "prompt"
	PlaceholderOutputDir = "output_dir"
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

var knownPlaceholders = map[string]bool{
	PlaceholderID:        true,
	PlaceholderJobDir:    true,
	PlaceholderVideo:     true,
	PlaceholderPrompt:    true,
	PlaceholderOutputDir: true,
}

// CommandTemplate is the remote job command line with {name} placeholders.
type CommandTemplate string

func (t CommandTemplate) Validate() error {
	if strings.TrimSpace(string(t)) == "" {
		return fmt.Errorf("command template is empty")
	}
	for _, match := range placeholderPattern.FindAllStringSubmatch(string(t), -1) {
		if !knownPlaceholders[match[1]] {
			return fmt.Errorf("unknown placeholder {%s} in command template", match[1])
		}
	}
	return nil
}

// Render substitutes every known placeholder with the shell-quoted value
// from vars. Unknown placeholders are left untouched.
func (t CommandTemplate) Render(vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(string(t), func(m string) string {
		name := m[1 : len(m)-1]
		value, ok := vars[name]
		if !ok || !knownPlaceholders[name] {
			return m
		}
		return ShellQuote(value)
	})
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@%+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
