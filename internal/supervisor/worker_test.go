/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see worker.go for full license header)
 ***************************************************************************** */

package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a Unix-like environment")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return false
}

func startTestWorker(t *testing.T, spec *ProgramSpec) *Worker {
	t.Helper()
	require.NoError(t, spec.Validate())
	w := newWorker(spec, 0, logging.NewNop(), ports.RealClock(), ports.OSSignals())
	t.Cleanup(func() {
		_ = w.Stop(true)
		waitUntil(t, 3*time.Second, func() bool {
			s := w.Snapshot().State
			return s == StateStopped || s == StateFatal
		})
		w.dispose()
	})
	return w
}

func TestWorkerExpectedExitStops(t *testing.T) {
	requireUnix(t)
	spec := validSpec("oneshot")
	spec.Command = `sh -c "exit 0"`
	spec.Restart = RestartOnUnexpected

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())

	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateStopped
	}), "expected Starting -> Stopped, got %s", w.Snapshot().State)
	snap := w.Snapshot()
	assert.Equal(t, 0, snap.Restarts)
	assert.Equal(t, 0, snap.ExitCode)
	assert.Equal(t, 0, snap.PID)
	assert.False(t, snap.StopRequested)
}

func TestWorkerRetriesExhaustedGoFatal(t *testing.T) {
	requireUnix(t)
	spec := validSpec("crasher")
	spec.Command = `sh -c "exit 1"`
	spec.Restart = RestartOnUnexpected
	spec.StartRetries = 2
	spec.StartSecs = 10

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())

	sawBackoff := false
	require.True(t, waitUntil(t, 10*time.Second, func() bool {
		snap := w.Snapshot()
		if snap.State == StateBackoff {
			sawBackoff = true
		}
		return snap.State == StateFatal
	}), "expected Fatal after exhausting retries, got %s", w.Snapshot().State)
	assert.True(t, sawBackoff, "worker should pass through Backoff between attempts")
	assert.Equal(t, 2, w.Snapshot().Restarts)
}

func TestWorkerZeroRetriesImmediatelyFatal(t *testing.T) {
	requireUnix(t)
	spec := validSpec("noretry")
	spec.Command = `sh -c "exit 1"`
	spec.Restart = RestartOnUnexpected
	spec.StartRetries = 0
	spec.StartSecs = 10

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())

	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateFatal
	}))
	assert.Equal(t, 0, w.Snapshot().Restarts)
}

func TestWorkerConfirmsRunningAndResetsRestarts(t *testing.T) {
	requireUnix(t)
	spec := validSpec("steady")
	spec.Command = "sleep 30"

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())

	snap := w.Snapshot()
	assert.Equal(t, StateStarting, snap.State)
	assert.NotZero(t, snap.PID)

	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateRunning
	}))
	assert.Equal(t, 0, w.Snapshot().Restarts)

	// A second start on a running slot is refused without escalation.
	assert.True(t, errors.Is(w.Start(), ErrAlreadyRunning))
}

func TestWorkerGracefulStopHonored(t *testing.T) {
	requireUnix(t)
	spec := validSpec("polite")
	spec.Command = `sh -c "trap 'exit 0' TERM; while true; do sleep 0.1; done"`
	spec.StopSignal = "TERM"
	spec.StopSecs = 5

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateRunning
	}))

	stopped := make(chan struct{})
	go func() {
		_ = w.Stop(false)
		close(stopped)
	}()
	<-stopped

	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateStopped
	}))
	// The trap ran: exit code 0, well before the 5 s escalation mark.
	assert.Equal(t, 0, w.Snapshot().ExitCode)
	assert.True(t, w.Snapshot().StopRequested)
}

func TestWorkerGracefulStopEscalates(t *testing.T) {
	requireUnix(t)
	spec := validSpec("stubborn")
	spec.Command = `sh -c "trap '' TERM; while true; do sleep 0.1; done"`
	spec.StopSignal = "TERM"
	spec.StopSecs = 1

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateRunning
	}))

	start := time.Now()
	require.NoError(t, w.Stop(false))
	require.True(t, waitUntil(t, 5*time.Second, func() bool {
		return w.Snapshot().State == StateStopped
	}), "worker ignoring TERM must be force-killed")
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "kill must wait out the grace window")
	// Killed by signal: no normal exit code.
	assert.Equal(t, -1, w.Snapshot().ExitCode)
}

func TestWorkerStopIdempotent(t *testing.T) {
	requireUnix(t)
	spec := validSpec("idem")
	spec.Command = "sleep 30"

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop(true))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateStopped
	}))
	// Stopping again changes nothing and reports success.
	require.NoError(t, w.Stop(false))
	assert.Equal(t, StateStopped, w.Snapshot().State)
}

func TestWorkerSpawnFailureIsFatal(t *testing.T) {
	requireUnix(t)
	spec := validSpec("ghost")
	spec.Command = "/nonexistent/binary --flag"

	w := startTestWorker(t, spec)
	err := w.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawnFailed))
	assert.Equal(t, StateFatal, w.Snapshot().State)

	// An operator start out of Fatal tries again from scratch.
	err = w.Start()
	assert.True(t, errors.Is(err, ErrSpawnFailed))
}

func TestWorkerCapturesStdout(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "logs", "echo.log")

	spec := validSpec("echoer")
	spec.Command = `sh -c "echo captured-line; sleep 0.2"`
	spec.Restart = RestartNever
	spec.StdoutPath = out

	w := startTestWorker(t, spec)
	require.NoError(t, w.Start())
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return w.Snapshot().State == StateStopped
	}))

	require.True(t, waitUntil(t, 2*time.Second, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.Contains(string(data), "captured-line")
	}), "child stdout must land in the configured sink")
}

func TestBuildEnvOverridesParent(t *testing.T) {
	t.Setenv("TASKMASTER_TEST_KEY", "parent")
	env := buildEnv(map[string]string{"TASKMASTER_TEST_KEY": "child", "TASKMASTER_EXTRA": "1"})

	// Inherit-then-override: both entries present, the spec's value last so
	// it wins in the child per exec environment semantics.
	lastIdx, overrideIdx := -1, -1
	hasExtra := false
	for i, kv := range env {
		if kv == "TASKMASTER_TEST_KEY=parent" {
			lastIdx = i
		}
		if kv == "TASKMASTER_TEST_KEY=child" {
			overrideIdx = i
		}
		if kv == "TASKMASTER_EXTRA=1" {
			hasExtra = true
		}
	}
	require.NotEqual(t, -1, overrideIdx)
	assert.True(t, hasExtra)
	if lastIdx != -1 {
		assert.Greater(t, overrideIdx, lastIdx)
	}
}
