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
	"errors"
	"sync"
	"time"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
)

// interSpawnDelay spaces out fleet-wide starts so a wide program does not
// slam shared resources in one burst.
const interSpawnDelay = 100 * time.Millisecond

// Fleet owns the worker slots of one program and broadcasts commands to
// them. Slot identity is positional: slot N is always instance N. The slot
// list has its own lock because settle waits poll it outside the engine's
// command mutex.
type Fleet struct {
	mu    sync.RWMutex
	spec  *ProgramSpec
	slots []*Worker

	log     *logging.Logger
	clock   ports.Clock
	signals ports.Signals
}

func newFleet(spec *ProgramSpec, log *logging.Logger, clock ports.Clock, signals ports.Signals) *Fleet {
	f := &Fleet{
		spec:    spec,
		log:     log,
		clock:   clock,
		signals: signals,
	}
	f.slots = make([]*Worker, spec.NumProcs)
	for i := range f.slots {
		f.slots[i] = newWorker(spec, i, log, clock, signals)
	}
	return f
}

// Spec returns the spec currently in force for the program.
func (f *Fleet) Spec() *ProgramSpec {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.spec
}

// workers returns a stable copy of the slot list.
func (f *Fleet) workers() []*Worker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*Worker(nil), f.slots...)
}

// StartAll starts every slot not already Starting or Running. It succeeds
// only if every start call does.
func (f *Fleet) StartAll() error {
	var firstErr error
	started := 0
	for _, w := range f.workers() {
		switch w.currentState() {
		case StateStarting, StateRunning:
			continue
		}
		if started > 0 {
			time.Sleep(interSpawnDelay)
		}
		if err := w.Start(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			if firstErr == nil {
				firstErr = err
			}
		}
		started++
	}
	return firstErr
}

// StopAll stops every slot that has something to stop.
func (f *Fleet) StopAll(force bool) error {
	var firstErr error
	for _, w := range f.workers() {
		if err := w.Stop(force); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// settleDeadline is how long a graceful stop of this fleet may take before
// callers give up waiting: the grace window plus a little slack.
func (f *Fleet) settleDeadline() time.Duration {
	return time.Duration(f.Spec().StopSecs)*time.Second + 2*time.Second
}

// waitSettled polls until no slot is Starting, Running or Stopping, or the
// deadline passes. It takes no engine-level lock and is safe to run outside
// the command mutex.
func (f *Fleet) waitSettled(deadline time.Duration) {
	limit := f.clock.Now().Add(deadline)
	for f.clock.Now().Before(limit) {
		if !f.anyActive() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (f *Fleet) anyActive() bool {
	for _, w := range f.workers() {
		switch w.currentState() {
		case StateStarting, StateRunning, StateStopping:
			return true
		}
	}
	return false
}

// drain gracefully stops every slot and waits out the grace window. Slots
// still alive afterwards are left for the caller to force.
func (f *Fleet) drain() {
	_ = f.StopAll(false)
	f.waitSettled(f.settleDeadline())
}

// Signal relays a symbolic signal to every slot with a live process.
func (f *Fleet) Signal(name string) error {
	var firstErr error
	for _, w := range f.workers() {
		if err := w.Signal(name); err != nil && !errors.Is(err, ErrNotRunning) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns slot snapshots in index order.
func (f *Fleet) Status() []Snapshot {
	ws := f.workers()
	out := make([]Snapshot, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Snapshot())
	}
	return out
}

// SetSpec installs a non-significant spec update: every slot picks it up on
// its next spawn, nothing is restarted.
func (f *Fleet) SetSpec(spec *ProgramSpec) {
	f.mu.Lock()
	f.spec = spec
	f.mu.Unlock()
	for _, w := range f.workers() {
		w.SetSpec(spec)
	}
}

// Reshape grows or shrinks the fleet to spec.NumProcs. Grown slots start
// immediately; shrunk slots are stopped and disposed.
func (f *Fleet) Reshape(spec *ProgramSpec) {
	f.mu.Lock()
	f.spec = spec
	old := len(f.slots)
	var added, doomed []*Worker
	switch {
	case spec.NumProcs > old:
		for i := old; i < spec.NumProcs; i++ {
			w := newWorker(spec, i, f.log, f.clock, f.signals)
			f.slots = append(f.slots, w)
			added = append(added, w)
		}
	case spec.NumProcs < old:
		doomed = f.slots[spec.NumProcs:]
		f.slots = f.slots[:spec.NumProcs]
	}
	f.mu.Unlock()

	for _, w := range added {
		if err := w.Start(); err != nil {
			f.log.Errorf("%s[%d]: start after reshape: %v", spec.Name, w.index, err)
		}
	}
	if len(doomed) > 0 {
		for _, w := range doomed {
			_ = w.Stop(false)
		}
		f.waitWorkers(doomed, time.Duration(spec.StopSecs)*time.Second+2*time.Second)
		for _, w := range doomed {
			_ = w.Stop(true)
			w.dispose()
		}
	}
	for _, w := range f.workers() {
		w.SetSpec(spec)
	}
}

func (f *Fleet) waitWorkers(ws []*Worker, deadline time.Duration) {
	limit := f.clock.Now().Add(deadline)
	for f.clock.Now().Before(limit) {
		active := false
		for _, w := range ws {
			switch w.currentState() {
			case StateStarting, StateRunning, StateStopping:
				active = true
			}
		}
		if !active {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// dispose force-stops everything and tears the slots down. Used when the
// program leaves the catalog and as the backstop after a drain.
func (f *Fleet) dispose() {
	f.mu.Lock()
	ws := f.slots
	f.slots = nil
	f.mu.Unlock()

	for _, w := range ws {
		_ = w.Stop(true)
	}
	f.waitWorkers(ws, 5*time.Second)
	for _, w := range ws {
		w.dispose()
	}
}
