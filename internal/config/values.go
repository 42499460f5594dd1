/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see config.go for full license header)
 ***************************************************************************** */

package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
)

// restartValue accepts `true|false|always|never|unexpected`, covering both
// the boolean and keyword spellings of autorestart.
type restartValue struct {
	policy supervisor.RestartPolicy
}

func (r *restartValue) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(node.Value) {
	case "true", "always":
		r.policy = supervisor.RestartAlways
	case "false", "never":
		r.policy = supervisor.RestartNever
	case "unexpected":
		r.policy = supervisor.RestartOnUnexpected
	default:
		return fmt.Errorf("autorestart: %q is not one of true, false, always, never, unexpected", node.Value)
	}
	return nil
}

// exitCodes accepts a single integer or a list of integers.
type exitCodes struct {
	codes []int
}

func (e *exitCodes) UnmarshalYAML(node *yaml.Node) error {
	var single int
	if err := node.Decode(&single); err == nil {
		e.codes = []int{single}
		return nil
	}
	var many []int
	if err := node.Decode(&many); err == nil {
		e.codes = many
		return nil
	}
	return fmt.Errorf("exitcodes: expected an integer or a list of integers")
}

// umaskValue accepts a decimal integer or a leading-zero octal literal,
// working from the literal text so `022` means 0o22 regardless of how the
// YAML parser resolves it.
type umaskValue struct {
	mode int
}

func (u *umaskValue) UnmarshalYAML(node *yaml.Node) error {
	text := strings.TrimSpace(node.Value)
	if text == "" {
		return fmt.Errorf("umask: empty value")
	}
	base := 10
	digits := text
	switch {
	case strings.HasPrefix(text, "0o"), strings.HasPrefix(text, "0O"):
		base, digits = 8, text[2:]
	case len(text) > 1 && text[0] == '0':
		base, digits = 8, text[1:]
	}
	mode, err := strconv.ParseInt(digits, base, 32)
	if err != nil {
		return fmt.Errorf("umask: %q is not a valid mode", text)
	}
	u.mode = int(mode)
	return nil
}
