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
	"sort"
	"sync"
	"time"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/metrics"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
)

var (
	ErrUnknownProgram = errors.New("unknown program")
	ErrShuttingDown   = errors.New("shutting down")
)

// Supervisor owns every fleet and is the single serialization point for
// control commands: each facade call runs under the command mutex, so no two
// commands interleave and reload is atomic relative to everything else.
// Long settle waits (restart's stop grace, shutdown's grace window) poll
// outside the mutex. Reload is the exception: its drains and reshapes wait
// while holding the mutex so the reconciliation stays atomic. Timer-driven worker
// transitions happen on the workers' own loops and do not take this mutex.
type Supervisor struct {
	log     *logging.Logger
	clock   ports.Clock
	signals ports.Signals

	mu     sync.Mutex
	fleets map[string]*Fleet
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an empty engine. Boot installs the first catalog.
func New(log *logging.Logger, clock ports.Clock, signals ports.Signals) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		log:     log,
		clock:   clock,
		signals: signals,
		fleets:  make(map[string]*Fleet),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Done is closed once Shutdown has torn everything down.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Boot installs the initial catalog and starts every autostart program.
func (s *Supervisor) Boot(catalog map[string]*ProgramSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}

	var firstErr error
	for _, name := range sortedNames(catalog) {
		spec := catalog[name]
		fleet := newFleet(spec, s.log, s.clock, s.signals)
		s.fleets[name] = fleet
		if spec.AutoStart {
			if err := fleet.StartAll(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	s.log.Infof("booted with %d program(s)", len(catalog))
	return firstErr
}

// Start starts every idle slot of the named program.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withFleet(name, func(f *Fleet) error { return f.StartAll() })
	metrics.IncCommand("start", err)
	return err
}

// Stop gracefully stops the named program.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withFleet(name, func(f *Fleet) error { return f.StopAll(false) })
	metrics.IncCommand("stop", err)
	return err
}

// Restart stops the named program, waits for it to settle, and starts it.
func (s *Supervisor) Restart(name string) error {
	err := s.restartProgram(name)
	metrics.IncCommand("restart", err)
	return err
}

// restartProgram runs the stop, settle, start sequence. The stop and the
// start each run under the command mutex; the settle polls outside it so the
// serialization point never blocks on the stop grace window. Before starting
// it re-checks that the fleet is still the one it stopped — a concurrent
// reload may have replaced or removed the program, and that reload wins.
func (s *Supervisor) restartProgram(name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	fleet, ok := s.fleets[name]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownProgram
	}
	if err := fleet.StopAll(false); err != nil {
		s.mu.Unlock()
		return err
	}
	deadline := fleet.settleDeadline()
	s.mu.Unlock()

	fleet.waitSettled(deadline)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	if current, ok := s.fleets[name]; !ok || current != fleet {
		return ErrUnknownProgram
	}
	return fleet.StartAll()
}

// StartAll starts every program in the catalog.
func (s *Supervisor) StartAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	var firstErr error
	for _, name := range sortedNames(s.fleets) {
		if err := s.fleets[name].StartAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	metrics.IncCommand("start_all", firstErr)
	return firstErr
}

// StopAll gracefully stops every program.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	var firstErr error
	for _, name := range sortedNames(s.fleets) {
		if err := s.fleets[name].StopAll(false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	metrics.IncCommand("stop_all", firstErr)
	return firstErr
}

// RestartAll restarts every program.
func (s *Supervisor) RestartAll() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	names := sortedNames(s.fleets)
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		err := s.restartProgram(name)
		if err != nil && !errors.Is(err, ErrUnknownProgram) && firstErr == nil {
			firstErr = err
		}
	}
	metrics.IncCommand("restart_all", firstErr)
	return firstErr
}

// Signal relays a symbolic signal to the named program's live processes.
func (s *Supervisor) Signal(name, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withFleet(name, func(f *Fleet) error { return f.Signal(sig) })
	metrics.IncCommand("signal", err)
	return err
}

// Status returns snapshots for every slot, ordered by program name then
// index.
func (s *Supervisor) Status() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.fleets))
	for _, name := range sortedNames(s.fleets) {
		out = append(out, s.fleets[name].Status()...)
	}
	return out
}

// StatusProgram returns snapshots for one program.
func (s *Supervisor) StatusProgram(name string) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fleet, ok := s.fleets[name]
	if !ok {
		return nil, ErrUnknownProgram
	}
	return fleet.Status(), nil
}

// SpecOf returns the spec in force for one program.
func (s *Supervisor) SpecOf(name string) (*ProgramSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fleet, ok := s.fleets[name]
	if !ok {
		return nil, ErrUnknownProgram
	}
	return fleet.Spec(), nil
}

// Reload reconciles the running fleets against a new catalog. The whole
// reconciliation runs under the command mutex: no other control command can
// observe a partially-applied catalog.
func (s *Supervisor) Reload(catalog map[string]*ProgramSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}

	// 1. Removed programs: force-stop and dispose.
	for name, fleet := range s.fleets {
		if _, ok := catalog[name]; !ok {
			s.log.Infof("reload: removing program %q", name)
			fleet.dispose()
			delete(s.fleets, name)
			metrics.DropProgram(name)
		}
	}

	var firstErr error
	for _, name := range sortedNames(catalog) {
		spec := catalog[name]
		fleet, ok := s.fleets[name]
		if !ok {
			// 3. New program.
			s.log.Infof("reload: adding program %q", name)
			fleet = newFleet(spec, s.log, s.clock, s.signals)
			s.fleets[name] = fleet
			if spec.AutoStart {
				if err := fleet.StartAll(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			continue
		}

		old := fleet.Spec()
		if old.Equal(spec) {
			continue
		}

		if old.SignificantlyDiffers(spec) {
			if differsOnlyInNumProcs(old, spec) {
				// Cardinality-only change: existing workers are untouched,
				// the fleet grows or shrinks at the edge.
				s.log.Infof("reload: reshaping %q from %d to %d proc(s)", name, old.NumProcs, spec.NumProcs)
				fleet.Reshape(spec)
				continue
			}
			// 2. Significant change: graceful stop first, force only the
			// stragglers, then a fresh fleet with the new spec.
			s.log.Infof("reload: restarting %q (significant change)", name)
			fleet.drain()
			fleet.dispose()
			fleet = newFleet(spec, s.log, s.clock, s.signals)
			s.fleets[name] = fleet
			if spec.AutoStart {
				if err := fleet.StartAll(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			continue
		}

		// Non-significant change: applies on next spawn. An autostart flip
		// to true starts the fleet; a flip to false leaves it running.
		wasAuto := old.AutoStart
		fleet.SetSpec(spec)
		if !wasAuto && spec.AutoStart {
			if err := fleet.StartAll(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	s.log.Infof("configuration reloaded (%d program(s))", len(catalog))
	metrics.IncCommand("reload", firstErr)
	return firstErr
}

// Shutdown gracefully stops every fleet, force-kills stragglers at the
// deadline, and tears the engine down. Further commands fail with
// ErrShuttingDown.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	s.closed = true

	s.log.Infof("shutting down")
	deadline := s.shutdownDeadline()

	for _, fleet := range s.fleets {
		_ = fleet.StopAll(false)
	}
	// closed is set, so every other command fails fast and nothing mutates
	// the fleet map while the grace window is waited out without the mutex.
	s.mu.Unlock()
	limit := s.clock.Now().Add(deadline)
	for s.clock.Now().Before(limit) {
		if !s.anyActive() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.mu.Lock()
	for _, fleet := range s.fleets {
		fleet.dispose()
	}
	s.fleets = make(map[string]*Fleet)

	s.cancel()
	s.log.Infof("shutdown complete")
	s.log.Sync()
	close(s.done)
	return nil
}

func (s *Supervisor) shutdownDeadline() time.Duration {
	max := 1
	for _, fleet := range s.fleets {
		if ss := fleet.Spec().StopSecs; ss > max {
			max = ss
		}
	}
	return time.Duration(max)*time.Second + 2*time.Second
}

func (s *Supervisor) anyActive() bool {
	for _, fleet := range s.fleets {
		if fleet.anyActive() {
			return true
		}
	}
	return false
}

// InstallSignalHandlers binds the daemon-level signals: HUP reloads via
// loadCatalog, TERM and INT shut down, USR1 dumps status to the log.
// Handlers run on the signal port's dispatch goroutine.
func (s *Supervisor) InstallSignalHandlers(loadCatalog func() (map[string]*ProgramSpec, error)) {
	s.signals.Watch(s.ctx, func(name string) {
		switch name {
		case "HUP":
			catalog, err := loadCatalog()
			if err != nil {
				s.log.Errorf("SIGHUP reload: %v", err)
				return
			}
			if err := s.Reload(catalog); err != nil {
				s.log.Errorf("SIGHUP reload: %v", err)
			}
		case "TERM", "INT":
			_ = s.Shutdown()
		case "USR1":
			for _, snap := range s.Status() {
				s.log.Infof("status: %s-%d (pid %d): %s restarts=%d",
					snap.Program, snap.Index, snap.PID, snap.State, snap.Restarts)
			}
		}
	}, "HUP", "TERM", "INT", "USR1")
}

func (s *Supervisor) withFleet(name string, fn func(*Fleet) error) error {
	if s.closed {
		return ErrShuttingDown
	}
	fleet, ok := s.fleets[name]
	if !ok {
		return ErrUnknownProgram
	}
	return fn(fleet)
}

func differsOnlyInNumProcs(old, next *ProgramSpec) bool {
	clone := *old
	clone.NumProcs = next.NumProcs
	return !clone.SignificantlyDiffers(next)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
