// Package guard refuses to start when another controller or bridge is
// already running, since two of them would send the hub duplicate commands.
package guard

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

type Process struct {
	Pid  int32
	Name string
	Args []string
}

type Lister interface {
	Processes(ctx context.Context) ([]Process, error)
}

// SystemLister reads the OS process table.
type SystemLister struct{}

func (SystemLister) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing processes: %w", err)
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			// exited while iterating or not ours to read
			continue
		}
		name, _ := p.NameWithContext(ctx)
		out = append(out, Process{Pid: p.Pid, Name: name, Args: args})
	}
	return out, nil
}

type Conflict struct {
	Description string
	Pid         int32
}

type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d conflicting processes running", len(e.Conflicts))
}

type Guard struct {
	lister       Lister
	self         int32
	names        []string
	interpreters []string
}

// New returns a Guard that treats any process other than self as a conflict
// when its executable is one of names, or when it is one of interpreters
// running a script whose basename is one of names. Interpreters match with
// a version suffix, python matches python3.11.
func New(lister Lister, self int32, interpreters []string, names ...string) *Guard {
	return &Guard{
		lister:       lister,
		self:         self,
		names:        names,
		interpreters: interpreters,
	}
}

func (g *Guard) Conflicts(ctx context.Context) ([]Conflict, error) {
	procs, err := g.lister.Processes(ctx)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, p := range procs {
		if p.Pid == g.self {
			continue
		}
		if desc, ok := g.match(p); ok {
			conflicts = append(conflicts, Conflict{Description: desc, Pid: p.Pid})
		}
	}
	return conflicts, nil
}

func (g *Guard) match(p Process) (string, bool) {
	exe := p.Name
	if len(p.Args) > 0 {
		exe = filepath.Base(p.Args[0])
	}

	if contains(g.names, exe) || contains(g.names, p.Name) {
		if len(p.Args) > 0 {
			return p.Args[0], true
		}
		return p.Name, true
	}

	if len(p.Args) < 2 || (!g.isInterpreter(exe) && !g.isInterpreter(p.Name)) {
		return "", false
	}
	for _, arg := range p.Args[1:] {
		if !contains(g.names, filepath.Base(arg)) {
			continue
		}
		name := p.Name
		if name == "" {
			name = exe
		}
		return name + " " + arg, true
	}
	return "", false
}

func (g *Guard) isInterpreter(exe string) bool {
	return contains(g.interpreters, strings.TrimRight(exe, "0123456789."))
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, n := range list {
		if n == s {
			return true
		}
	}
	return false
}

// Check logs every conflict and a kill command, and returns a
// *ConflictError if there were any.
func (g *Guard) Check(ctx context.Context, program string) error {
	conflicts, err := g.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}

	logrus.Errorf("The following processes prevent %s from running!", program)
	for _, c := range conflicts {
		logrus.Errorf(" %s %d", c.Description, c.Pid)
	}
	logrus.Error("Kill these processes (in many systems) by:")
	logrus.Errorf(" %s", KillCommand(conflicts))
	return &ConflictError{Conflicts: conflicts}
}

// KillCommand lists every distinct pid once, in order of appearance.
func KillCommand(conflicts []Conflict) string {
	seen := make(map[int32]bool, len(conflicts))
	pids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		if seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true
		pids = append(pids, strconv.Itoa(int(c.Pid)))
	}
	return "kill " + strings.Join(pids, " ")
}
