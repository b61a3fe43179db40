// Package bridge runs the hub bridge as a child process and relays its
// combined output to the log sink line by line.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

const maxLineLength = 1 << 20

type LineWriter interface {
	WriteLine(line string) error
}

// Supervisor owns the bridge process. A bridge that exits is not restarted.
type Supervisor struct {
	sink    LineWriter
	dir     string
	command string
	args    []string

	done chan struct{}
	mu   sync.Mutex
	pid  int
	err  error
}

func New(sink LineWriter, dir, command string, args ...string) *Supervisor {
	return &Supervisor{
		sink:    sink,
		dir:     dir,
		command: command,
		args:    args,
		done:    make(chan struct{}),
	}
}

// Start launches the bridge and returns once it is running. The relay runs
// in the background until the output stream closes. Cancelling ctx kills
// the bridge.
func (s *Supervisor) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Dir = s.dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting bridge %s: %w", s.command, err)
	}

	s.mu.Lock()
	s.pid = cmd.Process.Pid
	s.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"pid":     cmd.Process.Pid,
		"command": cmd.String(),
		"dir":     s.dir,
	}).Info("bridge: started")

	go s.relay(cmd, stdout)
	return nil
}

func (s *Supervisor) relay(cmd *exec.Cmd, r io.Reader) {
	defer close(s.done)

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, truncated, err := readLine(br, maxLineLength)
		if truncated {
			logrus.Warnf("bridge: output line longer than %d bytes truncated", maxLineLength)
		}
		if err != nil {
			if line != "" {
				s.writeLine(line)
			}
			if !errors.Is(err, io.EOF) {
				logrus.Errorf("bridge: error reading output: %s", err)
				// keep the pipe drained so the bridge never blocks on a full pipe
				_, _ = io.Copy(io.Discard, r)
			}
			break
		}
		s.writeLine(line)
	}

	err := cmd.Wait()
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"pid":   cmd.Process.Pid,
		"state": cmd.ProcessState.String(),
	}).Warn("bridge: output closed, bridge will not be restarted")
}

func (s *Supervisor) writeLine(line string) {
	if err := s.sink.WriteLine(line); err != nil {
		logrus.Errorf("bridge: error writing output: %s", err)
	}
}

// readLine returns the next line without its line ending. Bytes beyond max
// are discarded up to the end of the line.
func readLine(br *bufio.Reader, max int) (string, bool, error) {
	var buf []byte
	truncated := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return string(buf), truncated, err
		}
		room := max - len(buf)
		if len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		buf = append(buf, chunk...)
		if !isPrefix {
			return string(buf), truncated, nil
		}
	}
}

// Done is closed when the bridge output has closed and the process has
// been reaped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the exit error of the bridge. Only meaningful after Done.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}
