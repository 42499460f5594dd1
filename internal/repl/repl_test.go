//go:build !windows

/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see repl.go for full license header)
 ***************************************************************************** */

package repl

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nehonix-Team/taskmaster/internal/control"
	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
)

func testSpec(name string) *supervisor.ProgramSpec {
	return &supervisor.ProgramSpec{
		Name:         name,
		Command:      "sleep 60",
		NumProcs:     1,
		AutoStart:    false,
		ExitCodes:    []int{0},
		StartRetries: 1,
		StartSecs:    1,
		StopSignal:   "TERM",
		StopSecs:     2,
		Umask:        -1,
		Environment:  map[string]string{"MODE": "test"},
	}
}

func newTestRepl(t *testing.T, commands string) (*bytes.Buffer, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(logging.NewNop(), ports.RealClock(), ports.OSSignals())
	require.NoError(t, sup.Boot(map[string]*supervisor.ProgramSpec{"job": testSpec("job")}))
	facade := control.New(sup, func() (map[string]*supervisor.ProgramSpec, error) {
		return map[string]*supervisor.ProgramSpec{"job": testSpec("job")}, nil
	})

	var out bytes.Buffer
	r := New(facade, "test", strings.NewReader(commands), &out)
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("repl never finished")
	}
	return &out, sup
}

func TestReplSessionEndsInShutdown(t *testing.T) {
	out, sup := newTestRepl(t, strings.Join([]string{
		"version",
		"status",
		"start job",
		"status job",
		"config job",
		"stop job",
		"bogus",
		"help",
		"help status",
		"shutdown",
	}, "\n")+"\n")

	text := out.String()
	assert.Contains(t, text, "taskmaster test")
	assert.Contains(t, text, "job-0")
	assert.Contains(t, text, "start: ok")
	assert.Contains(t, text, "cmd           sleep 60")
	assert.Contains(t, text, "MODE=test")
	assert.Contains(t, text, "stop: ok")
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Contains(t, text, "status [name]")

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown command must tear the daemon down")
	}
}

func TestReplUnknownProgramAndUsage(t *testing.T) {
	out, _ := newTestRepl(t, "start missing\nstart\nsignal job\nconfig nope\nexit\n")

	text := out.String()
	assert.Contains(t, text, "start failed")
	assert.Contains(t, text, "usage: start <name|all>")
	assert.Contains(t, text, "usage: signal <name> <SIG>")
	assert.Contains(t, text, "unknown program")
}

func TestReplEOFTriggersShutdown(t *testing.T) {
	_, sup := newTestRepl(t, "status\n")
	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("EOF on stdin must shut the daemon down")
	}
}

func TestValidSignal(t *testing.T) {
	assert.True(t, ValidSignal("TERM"))
	assert.False(t, ValidSignal("NOPE"))
}
