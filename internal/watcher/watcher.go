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

// Package watcher triggers configuration reloads when the config file
// changes on disk.
package watcher

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
)

// debounce coalesces editor write bursts into one reload.
const debounce = 500 * time.Millisecond

// ConfigWatcher observes one config file and invokes a callback after
// changes settle.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	log     *logging.Logger
}

// New watches the directory holding path; editors often replace the file
// (rename + create), so watching the file inode alone would go blind after
// the first save.
func New(path string, log *logging.Logger) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &ConfigWatcher{watcher: w, path: abs, log: log}, nil
}

// Watch runs until Close, calling onChange after each settled change to the
// config file.
func (c *ConfigWatcher) Watch(onChange func()) {
	go func() {
		var timer *time.Timer
		for {
			select {
			case event, ok := <-c.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != c.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				c.log.Debugf("config file event: %s", event.Op)
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, onChange)
			case err, ok := <-c.watcher.Errors:
				if !ok {
					return
				}
				c.log.Warnf("config watcher: %v", err)
			}
		}
	}()
}

func (c *ConfigWatcher) Close() error {
	return c.watcher.Close()
}
