// Package logsink owns the process wide log output. Log entries from logrus
// and raw lines relayed from the bridge go through the same Sink so that no
// two writers ever interleave inside a line.
package logsink

import (
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is used for every log line.
const TimestampFormat = "02-01-2006 15:04:05"

type Sink struct {
	out io.Writer
	mu  sync.Mutex
}

func New(out io.Writer) *Sink {
	return &Sink{out: out}
}

// Write writes p in one call while holding the sink lock. logrus formats a
// complete entry before calling Write so each entry is atomic.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

// WriteLine writes line terminated by exactly one newline.
func (s *Sink) WriteLine(line string) error {
	_, err := s.Write([]byte(strings.TrimRight(line, "\r\n") + "\n"))
	return err
}

// Install makes the sink the output of logger.
func (s *Sink) Install(logger *logrus.Logger) {
	logger.SetOutput(s)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
		DisableColors:   true,
	})
}
