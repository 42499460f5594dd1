/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 *
 * ACCESS RESTRICTIONS:
 * - This software is exclusively for use by Authorized Personnel of NEHONIX
 * - Intended for Internal Use only within NEHONIX operations
 * - No rights granted to unauthorized individuals or entities
 * - All modifications are works made for hire assigned to NEHONIX
 *
 * PROHIBITED ACTIVITIES:
 * - Copying, distributing, or sublicensing without written permission
 * - Reverse engineering, decompiling, or disassembling
 * - Creating derivative works without explicit authorization
 * - External use or commercial distribution outside NEHONIX
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 * For questions or permissions, contact:
 * NEHONIX Legal Department
 * Email: legal@nehonix.com
 * Website: www.nehonix.com
 ***************************************************************************** */

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/metrics"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
)

// WorkerState is the lifecycle state of one supervised process slot.
type WorkerState int

const (
	StateStopped WorkerState = iota
	StateStarting             // spawned, inside the start-confirmation window
	StateRunning              // confirmed alive past the start window
	StateStopping             // stop signal sent, waiting for exit
	StateBackoff              // unexpected exit, waiting to respawn
	StateFatal                // retries exhausted or spawn refused
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateBackoff:
		return "Backoff"
	case StateFatal:
		return "Fatal"
	default:
		return "Stopped"
	}
}

// Errors surfaced by worker commands. They never unwind past the engine.
var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrSpawnFailed    = errors.New("spawn failed")
)

// Snapshot is a point-in-time copy of a worker's observable state.
type Snapshot struct {
	Program       string
	Index         int
	PID           int
	State         WorkerState
	StartedAt     time.Time
	Restarts      int
	Uptime        time.Duration
	ExitCode      int
	StopRequested bool
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdSignal
	cmdSetSpec
)

type workerCmd struct {
	kind  cmdKind
	force bool
	sig   string
	spec  *ProgramSpec
	reply chan error
}

type exitEvent struct {
	pid  int
	code int
}

// Worker supervises a single OS process slot. All mutation happens on the
// worker's own event loop; external callers talk to it through the command
// channel and read state through Snapshot.
type Worker struct {
	program string
	index   int
	log     *logging.Logger
	clock   ports.Clock
	signals ports.Signals

	// Snapshot fields, guarded by mu. The event loop writes, anyone reads.
	mu            sync.RWMutex
	spec          *ProgramSpec
	state         WorkerState
	pid           int
	startedAt     time.Time
	restarts      int
	stopRequested bool
	lastExit      int

	// Loop-owned; never touched outside the event loop.
	cmd        *exec.Cmd
	stdoutSink io.WriteCloser
	stderrSink io.WriteCloser
	confirmC   <-chan time.Time
	backoffC   <-chan time.Time
	graceC     <-chan time.Time

	cmds   chan workerCmd
	exits  chan exitEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(spec *ProgramSpec, index int, log *logging.Logger, clock ports.Clock, signals ports.Signals) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		program:  spec.Name,
		index:    index,
		log:      log,
		clock:    clock,
		signals:  signals,
		spec:     spec,
		state:    StateStopped,
		lastExit: -1,
		cmds:     make(chan workerCmd),
		exits:    make(chan exitEvent, 4),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	metrics.SetState(w.program, w.index, w.state.String())
	go w.loop()
	return w
}

// Start asks the worker to spawn its process. Returns ErrAlreadyRunning when
// the slot is already Starting, Running or Stopping.
func (w *Worker) Start() error { return w.send(workerCmd{kind: cmdStart}) }

// Stop asks the worker to terminate its process. Graceful stops send the
// configured stop signal and escalate after the grace window; force stops
// kill immediately. Stopping an already stopped worker is a no-op.
func (w *Worker) Stop(force bool) error { return w.send(workerCmd{kind: cmdStop, force: force}) }

// Signal delivers an arbitrary symbolic signal to the running process.
func (w *Worker) Signal(name string) error { return w.send(workerCmd{kind: cmdSignal, sig: name}) }

// SetSpec installs a replacement spec that takes effect on the next spawn.
func (w *Worker) SetSpec(spec *ProgramSpec) { _ = w.send(workerCmd{kind: cmdSetSpec, spec: spec}) }

func (w *Worker) send(c workerCmd) error {
	c.reply = make(chan error, 1)
	select {
	case w.cmds <- c:
		return <-c.reply
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// Snapshot returns a copy of the worker's observable state.
func (w *Worker) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap := Snapshot{
		Program:       w.program,
		Index:         w.index,
		PID:           w.pid,
		State:         w.state,
		StartedAt:     w.startedAt,
		Restarts:      w.restarts,
		ExitCode:      w.lastExit,
		StopRequested: w.stopRequested,
	}
	if w.state == StateStarting || w.state == StateRunning {
		snap.Uptime = w.clock.Now().Sub(w.startedAt)
	}
	return snap
}

// dispose cancels the event loop and waits for it to drain. The caller must
// have stopped the process first.
func (w *Worker) dispose() {
	w.cancel()
	<-w.done
}

// ─── event loop ──────────────────────────────────────────────────────────────

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			w.closeSinks()
			return
		case c := <-w.cmds:
			c.reply <- w.handleCmd(c)
		case ev := <-w.exits:
			w.handleExit(ev)
		case <-w.confirmC:
			// An exit racing the confirmation tick always wins: a child that
			// died at the boundary is never promoted to Running.
			select {
			case ev := <-w.exits:
				w.confirmC = nil
				w.handleExit(ev)
			default:
				w.confirmRunning()
			}
		case <-w.backoffC:
			w.backoffC = nil
			if err := w.spawn(); err != nil {
				w.log.Errorf("%s[%d]: respawn failed: %v", w.program, w.index, err)
			}
		case <-w.graceC:
			w.graceC = nil
			w.escalateKill()
		}
	}
}

func (w *Worker) handleCmd(c workerCmd) error {
	switch c.kind {
	case cmdStart:
		return w.handleStart()
	case cmdStop:
		return w.handleStop(c.force)
	case cmdSignal:
		return w.handleSignal(c.sig)
	case cmdSetSpec:
		w.mu.Lock()
		w.spec = c.spec
		w.mu.Unlock()
		return nil
	}
	return nil
}

func (w *Worker) handleStart() error {
	switch w.currentState() {
	case StateStarting, StateRunning, StateStopping:
		return ErrAlreadyRunning
	}
	// Operator start out of Backoff or Fatal resets the retry budget.
	w.backoffC = nil
	w.mu.Lock()
	w.restarts = 0
	w.stopRequested = false
	w.mu.Unlock()
	return w.spawn()
}

func (w *Worker) handleStop(force bool) error {
	switch w.currentState() {
	case StateStopped, StateFatal:
		return nil
	case StateBackoff:
		// Cancel the pending respawn; nothing is running.
		w.backoffC = nil
		w.setStopRequested(true)
		w.setState(StateStopped)
		return nil
	case StateStopping:
		if force {
			w.escalateKill()
		}
		return nil
	}

	// Starting or Running.
	w.setStopRequested(true)
	w.confirmC = nil
	spec := w.Spec()
	if force {
		w.setState(StateStopping)
		w.escalateKill()
		return nil
	}
	w.setState(StateStopping)
	if err := w.signals.Send(w.currentPID(), spec.StopSignal); err != nil {
		w.log.Warnf("%s[%d]: sending SIG%s failed (%v), escalating to kill",
			w.program, w.index, spec.StopSignal, err)
		w.escalateKill()
		return nil
	}
	w.graceC = w.clock.After(time.Duration(spec.StopSecs) * time.Second)
	return nil
}

func (w *Worker) handleSignal(name string) error {
	switch w.currentState() {
	case StateStarting, StateRunning, StateStopping:
		return w.signals.Send(w.currentPID(), name)
	}
	return ErrNotRunning
}

// ─── spawn & exit reaction ───────────────────────────────────────────────────

func (w *Worker) spawn() error {
	spec := w.Spec()
	argv, err := spec.Argv()
	if err != nil {
		w.toFatal()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = buildEnv(spec.Environment)
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.toFatal()
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.toFatal()
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	w.openSinks(spec)

	if err := startWithUmask(cmd, spec.Umask); err != nil {
		w.closeSinks()
		w.toFatal()
		w.log.Errorf("%s[%d]: spawn refused: cmd=%q err=%v", w.program, w.index, spec.Command, err)
		metrics.IncSpawnFailure(w.program)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	pid := cmd.Process.Pid
	w.cmd = cmd
	w.mu.Lock()
	w.pid = pid
	w.startedAt = w.clock.Now()
	w.state = StateStarting
	w.mu.Unlock()
	metrics.SetState(w.program, w.index, StateStarting.String())
	w.log.Infof("%s[%d]: spawned pid %d", w.program, w.index, pid)

	w.confirmC = w.clock.After(time.Duration(spec.StartSecs) * time.Second)

	go w.pump(stdout, w.stdoutSink, "stdout")
	go w.pump(stderr, w.stderrSink, "stderr")
	go w.reap(cmd, pid)
	return nil
}

func (w *Worker) reap(cmd *exec.Cmd, pid int) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	select {
	case w.exits <- exitEvent{pid: pid, code: code}:
	case <-w.ctx.Done():
	}
}

func (w *Worker) handleExit(ev exitEvent) {
	if ev.pid != w.currentPID() {
		return // stale event from a previous spawn
	}
	w.closeSinks()
	w.confirmC = nil
	w.graceC = nil
	w.cmd = nil

	w.mu.Lock()
	w.lastExit = ev.code
	w.pid = 0
	stopping := w.state == StateStopping
	spec := w.spec
	w.mu.Unlock()

	if stopping {
		w.log.Infof("%s[%d]: stopped (exit code %d)", w.program, w.index, ev.code)
		w.setState(StateStopped)
		return
	}

	expected := spec.ExpectedExit(ev.code)
	w.log.Infof("%s[%d]: exited with code %d (expected=%v)", w.program, w.index, ev.code, expected)

	shouldRestart := false
	switch spec.Restart {
	case RestartAlways:
		shouldRestart = true
	case RestartNever:
		shouldRestart = false
	case RestartOnUnexpected:
		shouldRestart = !expected
	}

	if !shouldRestart {
		w.setState(StateStopped)
		return
	}

	w.mu.Lock()
	exhausted := w.restarts >= spec.StartRetries
	if !exhausted {
		w.restarts++
	}
	attempt := w.restarts
	w.mu.Unlock()

	if exhausted {
		w.log.Errorf("%s[%d]: giving up after %d restart attempts", w.program, w.index, attempt)
		w.toFatal()
		return
	}

	delay := backoffDelay(attempt)
	w.log.Warnf("%s[%d]: restarting in %s (attempt %d/%d)", w.program, w.index, delay, attempt, spec.StartRetries)
	metrics.IncRestart(w.program)
	w.setState(StateBackoff)
	w.backoffC = w.clock.After(delay)
}

func (w *Worker) confirmRunning() {
	w.confirmC = nil
	if w.currentState() != StateStarting {
		return
	}
	w.mu.Lock()
	w.state = StateRunning
	w.restarts = 0
	w.mu.Unlock()
	metrics.SetState(w.program, w.index, StateRunning.String())
	w.log.Infof("%s[%d]: running (pid %d)", w.program, w.index, w.currentPID())
}

func (w *Worker) escalateKill() {
	pid := w.currentPID()
	if pid == 0 {
		return
	}
	w.log.Warnf("%s[%d]: force-killing pid %d", w.program, w.index, pid)
	killGroup(pid)
}

// backoffDelay grows exponentially from 1s, capped at 20s.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return 20 * time.Second
	}
	secs := 1 << (attempt - 1)
	if secs > 20 {
		secs = 20
	}
	return time.Duration(secs) * time.Second
}

// ─── sinks & pumps ───────────────────────────────────────────────────────────

func (w *Worker) openSinks(spec *ProgramSpec) {
	if spec.DiscardOutput {
		return
	}
	w.stdoutSink = w.openSink(spec.LogPath(spec.StdoutPath, w.index))
	w.stderrSink = w.openSink(spec.LogPath(spec.StderrPath, w.index))
}

func (w *Worker) openSink(path string) io.WriteCloser {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.log.Warnf("%s[%d]: creating log directory for %s: %v", w.program, w.index, path, err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.log.Warnf("%s[%d]: opening log sink %s: %v", w.program, w.index, path, err)
		return nil
	}
	return f
}

func (w *Worker) closeSinks() {
	if w.stdoutSink != nil {
		_ = w.stdoutSink.Close()
		w.stdoutSink = nil
	}
	if w.stderrSink != nil {
		_ = w.stderrSink.Close()
		w.stderrSink = nil
	}
}

// pump drains one child pipe into its sink. Sink write errors are logged and
// never affect supervision; the pipe must keep draining regardless.
func (w *Worker) pump(r io.Reader, sink io.Writer, stream string) {
	if sink == nil {
		sink = io.Discard
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				w.log.Warnf("%s[%d]: %s sink write: %v", w.program, w.index, stream, werr)
				sink = io.Discard
			}
		}
		if err != nil {
			return
		}
	}
}

// ─── small accessors ─────────────────────────────────────────────────────────

func (w *Worker) Spec() *ProgramSpec {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.spec
}

func (w *Worker) currentState() WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) currentPID() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pid
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	metrics.SetState(w.program, w.index, s.String())
}

func (w *Worker) setStopRequested(v bool) {
	w.mu.Lock()
	w.stopRequested = v
	w.mu.Unlock()
}

func (w *Worker) toFatal() {
	w.setState(StateFatal)
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
