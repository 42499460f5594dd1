//go:build !windows

/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see supervisor.go for full license header)
 ***************************************************************************** */

package supervisor

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sup := New(logging.NewNop(), ports.RealClock(), ports.OSSignals())
	t.Cleanup(func() { _ = sup.Shutdown() })
	return sup
}

func sleeperSpec(name string, procs int) *ProgramSpec {
	spec := validSpec(name)
	spec.Command = "sleep 60"
	spec.NumProcs = procs
	spec.AutoStart = true
	spec.StopSecs = 2
	return spec
}

func catalogOf(specs ...*ProgramSpec) map[string]*ProgramSpec {
	m := make(map[string]*ProgramSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}

func pidsOf(snaps []Snapshot) []int {
	pids := make([]int, 0, len(snaps))
	for _, s := range snaps {
		pids = append(pids, s.PID)
	}
	return pids
}

func allInState(snaps []Snapshot, states ...WorkerState) bool {
	for _, s := range snaps {
		ok := false
		for _, st := range states {
			if s.State == st {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func TestBootAutostartAndStatusOrdering(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	auto := sleeperSpec("alpha", 2)
	manual := sleeperSpec("beta", 1)
	manual.AutoStart = false

	require.NoError(t, sup.Boot(catalogOf(auto, manual)))

	snaps := sup.Status()
	require.Len(t, snaps, 3)
	assert.Equal(t, "alpha", snaps[0].Program)
	assert.Equal(t, 0, snaps[0].Index)
	assert.Equal(t, "alpha", snaps[1].Program)
	assert.Equal(t, 1, snaps[1].Index)
	assert.Equal(t, "beta", snaps[2].Program)

	assert.True(t, allInState(snaps[:2], StateStarting, StateRunning))
	assert.Equal(t, StateStopped, snaps[2].State)
}

func TestUnknownProgram(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Boot(map[string]*ProgramSpec{}))

	assert.ErrorIs(t, sup.Start("nope"), ErrUnknownProgram)
	assert.ErrorIs(t, sup.Stop("nope"), ErrUnknownProgram)
	assert.ErrorIs(t, sup.Restart("nope"), ErrUnknownProgram)
	_, err := sup.StatusProgram("nope")
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestStartStopLifecycle(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	spec := sleeperSpec("job", 1)
	spec.AutoStart = false
	require.NoError(t, sup.Boot(catalogOf(spec)))

	require.NoError(t, sup.Start("job"))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		snaps, _ := sup.StatusProgram("job")
		return allInState(snaps, StateStarting, StateRunning)
	}))

	require.NoError(t, sup.Stop("job"))
	require.True(t, waitUntil(t, 5*time.Second, func() bool {
		snaps, _ := sup.StatusProgram("job")
		return allInState(snaps, StateStopped)
	}))

	// Stopping twice is the same as stopping once.
	require.NoError(t, sup.Stop("job"))
	snaps, _ := sup.StatusProgram("job")
	assert.True(t, allInState(snaps, StateStopped))
}

func TestRestartReplacesPIDs(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("job", 1))))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		snaps, _ := sup.StatusProgram("job")
		return allInState(snaps, StateRunning)
	}))
	before := pidsOf(sup.Status())

	require.NoError(t, sup.Restart("job"))
	snaps, _ := sup.StatusProgram("job")
	require.True(t, allInState(snaps, StateStarting, StateRunning))
	after := pidsOf(snaps)
	assert.NotEqual(t, before, after)
}

func TestReloadSameCatalogIsNoop(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("job", 2))))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateStarting, StateRunning)
	}))
	before := pidsOf(sup.Status())

	require.NoError(t, sup.Reload(catalogOf(sleeperSpec("job", 2))))
	assert.Equal(t, before, pidsOf(sup.Status()), "identical catalog must not restart anything")
}

func TestReloadGrowsNumProcs(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("w", 2))))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateRunning)
	}))
	before := pidsOf(sup.Status())
	require.Len(t, before, 2)

	require.NoError(t, sup.Reload(catalogOf(sleeperSpec("w", 4))))

	snaps := sup.Status()
	require.Len(t, snaps, 4)
	// Original slots keep their processes and their restart counters.
	assert.Equal(t, before[0], snaps[0].PID)
	assert.Equal(t, before[1], snaps[1].PID)
	assert.Equal(t, 0, snaps[0].Restarts)
	assert.True(t, allInState(snaps[2:], StateStarting, StateRunning))
}

func TestReloadShrinksNumProcs(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("w", 3))))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateStarting, StateRunning)
	}))

	require.NoError(t, sup.Reload(catalogOf(sleeperSpec("w", 1))))
	snaps := sup.Status()
	require.Len(t, snaps, 1)
	assert.True(t, allInState(snaps, StateStarting, StateRunning))
}

func TestReloadSignificantChangeRestarts(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	// The child records the stop signal it receives, so the test can tell a
	// graceful TERM apart from a SIGKILL.
	marker := filepath.Join(t.TempDir(), "got-term")
	polite := sleeperSpec("job", 1)
	polite.Command = `sh -c "trap 'touch ` + marker + `; exit 0' TERM; while true; do sleep 0.1; done"`

	require.NoError(t, sup.Boot(catalogOf(polite)))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateRunning)
	}))
	before := pidsOf(sup.Status())

	changed := sleeperSpec("job", 1)
	changed.Command = "sleep 120"
	require.NoError(t, sup.Reload(catalogOf(changed)))

	snaps := sup.Status()
	require.Len(t, snaps, 1)
	require.True(t, allInState(snaps, StateStarting, StateRunning))
	assert.NotEqual(t, before[0], snaps[0].PID, "significant change must produce a fresh process")

	// The old worker was stopped with its stop signal, not force-killed.
	_, err := os.Stat(marker)
	assert.NoError(t, err, "old worker must have seen SIGTERM during the reload")

	spec, err := sup.SpecOf("job")
	require.NoError(t, err)
	assert.Equal(t, "sleep 120", spec.Command)
}

func TestRestartDoesNotBlockStatus(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	// A child that ignores TERM pins the restart in its settle window for
	// the full stop grace (2 s here).
	stubborn := sleeperSpec("job", 1)
	stubborn.Command = `sh -c "trap '' TERM; while true; do sleep 0.1; done"`
	require.NoError(t, sup.Boot(catalogOf(stubborn)))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateRunning)
	}))

	restarted := make(chan error, 1)
	go func() { restarted <- sup.Restart("job") }()

	// Give the restart a moment to dispatch the stop and enter its settle.
	time.Sleep(200 * time.Millisecond)

	begin := time.Now()
	_ = sup.Status()
	assert.Less(t, time.Since(begin), 500*time.Millisecond,
		"status must not wait out another command's stop grace window")

	select {
	case err := <-restarted:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("restart never finished")
	}
	snaps, _ := sup.StatusProgram("job")
	assert.True(t, allInState(snaps, StateStarting, StateRunning))
}

func TestReloadRemovesProgram(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("gone", 1), sleeperSpec("kept", 1))))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateStarting, StateRunning)
	}))
	gonePID := pidsOf(sup.Status())[0]

	require.NoError(t, sup.Reload(catalogOf(sleeperSpec("kept", 1))))

	snaps := sup.Status()
	require.Len(t, snaps, 1)
	assert.Equal(t, "kept", snaps[0].Program)
	_, err := sup.StatusProgram("gone")
	assert.ErrorIs(t, err, ErrUnknownProgram)

	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return syscall.Kill(gonePID, 0) != nil
	}), "removed program's process must be gone")
}

func TestReloadAutostartFlip(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	off := sleeperSpec("job", 1)
	off.AutoStart = false
	require.NoError(t, sup.Boot(catalogOf(off)))
	assert.True(t, allInState(sup.Status(), StateStopped))

	on := sleeperSpec("job", 1)
	on.AutoStart = true
	require.NoError(t, sup.Reload(catalogOf(on)))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateStarting, StateRunning)
	}))
	runningPID := pidsOf(sup.Status())[0]

	// Flipping back to false leaves the running worker alone.
	require.NoError(t, sup.Reload(catalogOf(off)))
	snaps := sup.Status()
	assert.Equal(t, runningPID, snaps[0].PID)
	assert.True(t, allInState(snaps, StateStarting, StateRunning))
}

func TestShutdownLeavesNoChildren(t *testing.T) {
	requireUnix(t)
	sup := New(logging.NewNop(), ports.RealClock(), ports.OSSignals())

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("a", 2), sleeperSpec("b", 1))))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		return allInState(sup.Status(), StateStarting, StateRunning)
	}))
	pids := pidsOf(sup.Status())
	require.Len(t, pids, 3)

	require.NoError(t, sup.Shutdown())
	select {
	case <-sup.Done():
	case <-time.After(time.Second):
		t.Fatal("Done must be closed after Shutdown returns")
	}

	for _, pid := range pids {
		require.True(t, waitUntil(t, 3*time.Second, func() bool {
			return syscall.Kill(pid, 0) != nil
		}), "pid %d still alive after shutdown", pid)
	}

	assert.ErrorIs(t, sup.Start("a"), ErrShuttingDown)
	assert.ErrorIs(t, sup.Shutdown(), ErrShuttingDown)
}

func TestFleetCardinalityInvariant(t *testing.T) {
	requireUnix(t)
	sup := newTestSupervisor(t)

	require.NoError(t, sup.Boot(catalogOf(sleeperSpec("a", 3), sleeperSpec("b", 2))))
	counts := map[string]int{}
	for _, snap := range sup.Status() {
		counts[snap.Program]++
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 2}, counts)
}
