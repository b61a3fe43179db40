package logsink

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestWriteLineTerminatesOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	s := New(buf)

	assert.NoError(t, s.WriteLine("no newline"))
	assert.NoError(t, s.WriteLine("with newline\n"))
	assert.NoError(t, s.WriteLine("crlf\r\n"))

	assert.Equal(t, "no newline\nwith newline\ncrlf\n", buf.String())
}

func TestConcurrentWritersNeverInterleave(t *testing.T) {
	buf := &bytes.Buffer{}
	s := New(buf)
	logger := logrus.New()
	s.Install(logger)

	const writers = 8
	const lines = 200
	bridgeLine := strings.Repeat("b", 300)

	wg := &sync.WaitGroup{}
	for w := 0; w < writers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < lines; i++ {
				logger.WithField("writer", w).Infof("tick %d", i)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < lines; i++ {
				_ = s.WriteLine(bridgeLine)
			}
		}()
	}
	wg.Wait()

	out := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, out, writers*lines*2)
	bridge := 0
	for _, line := range out {
		if line == bridgeLine {
			bridge++
			continue
		}
		if !assert.True(t, strings.HasPrefix(line, "time=\""), "unexpected line %q", line) {
			return
		}
		assert.NotContains(t, line, "b"+"bb")
		assert.Contains(t, line, "level=info msg=\"tick ")
	}
	assert.Equal(t, writers*lines, bridge)
}

func TestInstallFormatsTimestamp(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	New(buf).Install(logger)

	logger.Error("boom")

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "time=\""), line)
	assert.Contains(t, line, "level=error msg=boom")
	assert.Equal(t, 1, strings.Count(line, "\n"), fmt.Sprintf("%q", line))
}
