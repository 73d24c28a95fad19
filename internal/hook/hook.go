// Package hook implements the user-supplied action chains executed at
// lifecycle boundaries: the bareword "rm", {mv: dir} and {run: shell}.
package hook

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/livearc/livearc/internal/log"
)

// Step is one action in a chain.
type Step struct {
	Rm  bool
	Mv  string // destination directory
	Run string // shell line, payload on stdin
}

// Chain is an ordered list of steps.
type Chain []Step

// UnmarshalYAML accepts the bareword "rm", {mv: "<dir>"} and {run: "<cmd>"}.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var word string
		if err := node.Decode(&word); err != nil {
			return err
		}
		if word != "rm" {
			return fmt.Errorf("hook: unknown step %q", word)
		}
		s.Rm = true
		return nil
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("hook: step must be \"rm\", {mv: dir} or {run: cmd}: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("hook: step must contain exactly one of mv/run, got %d keys", len(m))
	}
	for k, v := range m {
		switch k {
		case "mv":
			s.Mv = v
		case "run":
			s.Run = v
		default:
			return fmt.Errorf("hook: unknown step key %q", k)
		}
	}
	return nil
}

// RunSteps executes every `run` step of the chain in order, piping payload to
// the shell's stdin. Non-zero exits are logged and the next step still runs.
// This is the entry point for pre/segment/downloaded processor chains, whose
// payload is a JSON document.
func RunSteps(ctx context.Context, chain Chain, payload string) {
	logger := log.WithComponent("hook")
	for _, step := range chain {
		if step.Run == "" {
			continue
		}
		out, err := runShell(ctx, step.Run, payload)
		if err != nil {
			logger.Warn().Err(err).Str("cmd", step.Run).Str("output", out).Msg("hook failed")
			continue
		}
		if out != "" {
			logger.Info().Str("cmd", step.Run).Msg(out)
		}
	}
}

func runShell(ctx context.Context, line, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	return strings.TrimRight(string(out), "\n"), err
}
