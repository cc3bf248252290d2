package environment

import (
	"context"

	"github.com/kballard/go-shellquote"
)

type posixStrategy struct{}

func (posixStrategy) shellEnvKey() string { return "SHELL" }

func (posixStrategy) defaultShell() string { return "/bin/sh" }

func (posixStrategy) userPathCommand(shell string) (string, []string) {
	return shell, []string{"-ilc", "echo $PATH"}
}

func (posixStrategy) prepare(context.Context, runFunc, Env) error {
	return nil
}

// command prefixes the invocation with an inline export so the secret reaches
// the agent through the shell rather than the parent environment.
func (posixStrategy) command(shell string, argv []string, env Env) (string, []string) {
	line := "exec " + shellquote.Join(argv...)
	if env.SecretVar != "" {
		line = "export " + env.SecretVar + "=" + shellquote.Join(env.Secret) + "; " + line
	}
	return shell, []string{"-c", line}
}

func (posixStrategy) secretInEnviron() bool { return false }
