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

// Package metrics exposes the daemon's prometheus collectors. Gauges and
// counters are package-level so any component can record without plumbing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var workerStates = []string{"Stopped", "Starting", "Running", "Stopping", "Backoff", "Fatal"}

var (
	programState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskmaster_program_state",
		Help: "Per-slot state flag; exactly one state is 1 for each program/index pair.",
	}, []string{"program", "index", "state"})

	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmaster_restarts_total",
		Help: "Automatic restart attempts per program.",
	}, []string{"program"})

	spawnFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmaster_spawn_failures_total",
		Help: "Spawns refused by the OS per program.",
	}, []string{"program"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmaster_control_commands_total",
		Help: "Control commands processed, by command and outcome.",
	}, []string{"command", "outcome"})
)

// SetState marks the slot's current state, clearing the other state flags.
func SetState(program string, index int, state string) {
	idx := strconv.Itoa(index)
	for _, s := range workerStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		programState.WithLabelValues(program, idx, s).Set(v)
	}
}

// DropProgram removes all series for a program when it leaves the catalog.
func DropProgram(program string) {
	programState.DeletePartialMatch(prometheus.Labels{"program": program})
	restartsTotal.DeleteLabelValues(program)
	spawnFailuresTotal.DeleteLabelValues(program)
}

// IncRestart counts one automatic restart attempt.
func IncRestart(program string) {
	restartsTotal.WithLabelValues(program).Inc()
}

// IncSpawnFailure counts one refused spawn.
func IncSpawnFailure(program string) {
	spawnFailuresTotal.WithLabelValues(program).Inc()
}

// IncCommand counts one control command with its outcome ("ok" or "error").
func IncCommand(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
}
