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

// Package ports holds the small capability interfaces the supervision core
// depends on: a time source and a signal sender/receiver. The core never
// touches the OS clock or signal table directly.
package ports

import (
	"context"
	"os"
	"os/signal"
	"time"
)

// Clock abstracts the time source so timers can be exercised in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Signals is the signal capability the core consumes. Send delivers a
// symbolic signal (HUP, INT, QUIT, TERM, USR1, USR2, KILL) to a PID; Watch
// installs handlers that run on a dedicated dispatch goroutine, never inside
// the OS handler.
type Signals interface {
	Send(pid int, name string) error
	Watch(ctx context.Context, handler func(name string), names ...string)
}

type osSignals struct{}

// OSSignals returns the real signal table for this platform.
func OSSignals() Signals { return osSignals{} }

func (osSignals) Send(pid int, name string) error {
	sig, err := LookupSignal(name)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

func (osSignals) Watch(ctx context.Context, handler func(name string), names ...string) {
	sigs := make([]os.Signal, 0, len(names))
	byOS := make(map[os.Signal]string, len(names))
	for _, name := range names {
		sig, err := LookupSignal(name)
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
		byOS[sig] = name
	}

	ch := make(chan os.Signal, 8)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case sig := <-ch:
				if name, ok := byOS[sig]; ok {
					handler(name)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
