package environment

import (
	"context"
	"fmt"
)

type windowsStrategy struct{}

func (windowsStrategy) shellEnvKey() string { return "COMSPEC" }

func (windowsStrategy) defaultShell() string { return "cmd.exe" }

func (windowsStrategy) userPathCommand(string) (string, []string) {
	return "powershell", []string{
		"-NoProfile",
		"-Command",
		"[Environment]::GetEnvironmentVariable('Path', 'User') + ';' + [Environment]::GetEnvironmentVariable('Path', 'Machine')",
	}
}

// prepare persists the overlay with setx and switches the console to UTF-8.
// A shell spawned right after an in-process env change does not reliably see
// it, so this runs to completion before the spawn.
func (windowsStrategy) prepare(ctx context.Context, run runFunc, env Env) error {
	steps := [][]string{
		{"setx", EncodingVar, EncodingValue},
		{"setx", SimpleOutputVar, "1"},
		{"chcp", "65001"},
	}
	if env.SecretVar != "" {
		steps = append(steps, []string{"setx", env.SecretVar, env.Secret})
	}

	for _, step := range steps {
		args := append([]string{"/c"}, step...)
		if _, err := run(ctx, "cmd.exe", args...); err != nil {
			return fmt.Errorf("run %s %s: %w", step[0], step[1], err)
		}
	}
	return nil
}

func (windowsStrategy) command(shell string, argv []string, _ Env) (string, []string) {
	return shell, append([]string{"/c"}, argv...)
}

func (windowsStrategy) secretInEnviron() bool { return true }
