package domain

import "strings"

// InvocationCandidate is one way to launch the agent. Args come before the
// chat flags; VersionArgs are appended to Program+Args for the liveness probe.
type InvocationCandidate struct {
	Name        string
	Program     string
	Args        []string
	VersionArgs []string
}

func (c InvocationCandidate) String() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// Invocation is a resolved candidate plus the flags that make it a chat
// session.
type Invocation struct {
	Candidate InvocationCandidate
	ChatFlags []string
}

// Argv returns program arguments without the program itself.
func (i Invocation) Argv(extra ...string) []string {
	argv := make([]string, 0, len(i.Candidate.Args)+len(i.ChatFlags)+len(extra))
	argv = append(argv, i.Candidate.Args...)
	argv = append(argv, i.ChatFlags...)
	argv = append(argv, extra...)
	return argv
}

var DefaultChatFlags = []string{"--no-pretty", "--yes-always", "--no-auto-commits", "--no-suggest-shell-commands"}

// DefaultCandidates lists the interpreter-module forms first so a managed
// install shadows a stray `aider` on PATH.
func DefaultCandidates() []InvocationCandidate {
	return []InvocationCandidate{
		{Name: "python -m aider", Program: "python", Args: []string{"-m", "aider"}, VersionArgs: []string{"--version"}},
		{Name: "python3 -m aider", Program: "python3", Args: []string{"-m", "aider"}, VersionArgs: []string{"--version"}},
		{Name: "aider", Program: "aider", VersionArgs: []string{"--version"}},
	}
}

// ParseCandidate splits a command line such as "python3 -m aider" on
// whitespace.
func ParseCandidate(line string) (InvocationCandidate, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return InvocationCandidate{}, false
	}
	return InvocationCandidate{
		Name:        strings.Join(fields, " "),
		Program:     fields[0],
		Args:        fields[1:],
		VersionArgs: []string{"--version"},
	}, true
}
