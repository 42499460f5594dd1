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

// Package control is the thin facade the external adapters (shell, control
// socket, HTTP API) call into. It binds the engine to the config loader so
// adapters can say "reload" without knowing where the catalog lives.
package control

import (
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
)

// Facade exposes the engine's control surface.
type Facade struct {
	sup  *supervisor.Supervisor
	load func() (map[string]*supervisor.ProgramSpec, error)
}

// New wires the engine to a catalog loader.
func New(sup *supervisor.Supervisor, load func() (map[string]*supervisor.ProgramSpec, error)) *Facade {
	return &Facade{sup: sup, load: load}
}

func (f *Facade) Start(name string) error   { return f.sup.Start(name) }
func (f *Facade) Stop(name string) error    { return f.sup.Stop(name) }
func (f *Facade) Restart(name string) error { return f.sup.Restart(name) }

func (f *Facade) StartAll() error   { return f.sup.StartAll() }
func (f *Facade) StopAll() error    { return f.sup.StopAll() }
func (f *Facade) RestartAll() error { return f.sup.RestartAll() }

func (f *Facade) Signal(name, sig string) error { return f.sup.Signal(name, sig) }

func (f *Facade) Status() []supervisor.Snapshot { return f.sup.Status() }

func (f *Facade) StatusProgram(name string) ([]supervisor.Snapshot, error) {
	return f.sup.StatusProgram(name)
}

func (f *Facade) SpecOf(name string) (*supervisor.ProgramSpec, error) {
	return f.sup.SpecOf(name)
}

// Reload re-reads the catalog and reconciles the fleets against it.
func (f *Facade) Reload() error {
	catalog, err := f.load()
	if err != nil {
		return err
	}
	return f.sup.Reload(catalog)
}

func (f *Facade) Shutdown() error { return f.sup.Shutdown() }

// Done is closed when shutdown has completed.
func (f *Facade) Done() <-chan struct{} { return f.sup.Done() }
