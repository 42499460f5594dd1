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

// Package repl is the interactive shell attached to stdio when the daemon
// runs in the foreground.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Nehonix-Team/taskmaster/internal/control"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
	"github.com/Nehonix-Team/taskmaster/internal/sysinfo"
)

var helpTopics = map[string]string{
	"status":   "status [name]          show worker states, optionally for one program",
	"start":    "start <name|all>       start a program (or everything)",
	"stop":     "stop <name|all>        stop a program gracefully (or everything)",
	"restart":  "restart <name|all>     stop then start a program (or everything)",
	"reload":   "reload                 re-read the config file and reconcile",
	"config":   "config <name>          print the effective spec of a program",
	"signal":   "signal <name> <SIG>    send a signal to a program's processes",
	"sys":      "sys                    show a host resource snapshot",
	"shutdown": "shutdown               stop everything and exit",
	"exit":     "exit | quit            same as shutdown",
	"version":  "version                print the daemon version",
	"help":     "help [cmd]             this text",
}

// Repl drives the interactive shell over an input/output pair.
type Repl struct {
	facade  *control.Facade
	version string
	in      io.Reader
	out     io.Writer

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	cyan   *color.Color
}

func New(facade *control.Facade, version string, in io.Reader, out io.Writer) *Repl {
	return &Repl{
		facade:  facade,
		version: version,
		in:      in,
		out:     out,
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed, color.Bold),
		cyan:    color.New(color.FgCyan),
	}
}

// Run reads commands until EOF or a shutdown-triggering command. It returns
// once the shell is done; shutdown itself proceeds on the engine.
func (r *Repl) Run() {
	r.cyan.Fprintf(r.out, "taskmaster %s — type 'help' for commands\n", r.version)

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, "taskmaster> ")
		if !scanner.Scan() {
			// stdin closed: treat like shutdown so children never outlive
			// their operator session.
			_ = r.facade.Shutdown()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if r.dispatch(line) {
			return
		}
	}
}

// dispatch executes one command line; it reports whether the shell should
// exit.
func (r *Repl) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "status":
		r.cmdStatus(args)
	case "start":
		r.cmdLifecycle(args, "start", r.facade.Start, r.facade.StartAll)
	case "stop":
		r.cmdLifecycle(args, "stop", r.facade.Stop, r.facade.StopAll)
	case "restart":
		r.cmdLifecycle(args, "restart", r.facade.Restart, r.facade.RestartAll)
	case "reload":
		if err := r.facade.Reload(); err != nil {
			r.red.Fprintf(r.out, "reload failed: %v\n", err)
		} else {
			r.green.Fprintln(r.out, "configuration reloaded")
		}
	case "config":
		r.cmdConfig(args)
	case "signal":
		r.cmdSignal(args)
	case "sys":
		r.cmdSys()
	case "shutdown", "exit", "quit":
		_ = r.facade.Shutdown()
		return true
	case "version":
		fmt.Fprintf(r.out, "taskmaster %s\n", r.version)
	case "help":
		r.cmdHelp(args)
	default:
		r.red.Fprintf(r.out, "unknown command %q — try 'help'\n", cmd)
	}
	return false
}

func (r *Repl) cmdStatus(args []string) {
	var snaps []supervisor.Snapshot
	if len(args) > 0 {
		var err error
		snaps, err = r.facade.StatusProgram(args[0])
		if err != nil {
			r.red.Fprintf(r.out, "%v\n", err)
			return
		}
	} else {
		snaps = r.facade.Status()
	}
	if len(snaps) == 0 {
		fmt.Fprintln(r.out, "no programs")
		return
	}
	for _, snap := range snaps {
		r.printSnapshot(snap)
	}
}

func (r *Repl) printSnapshot(snap supervisor.Snapshot) {
	paint := r.yellow
	switch snap.State {
	case supervisor.StateRunning:
		paint = r.green
	case supervisor.StateFatal:
		paint = r.red
	}
	fmt.Fprintf(r.out, "%-24s pid %-8d ", fmt.Sprintf("%s-%d", snap.Program, snap.Index), snap.PID)
	paint.Fprintf(r.out, "%-9s", snap.State)
	if snap.State == supervisor.StateRunning || snap.State == supervisor.StateStarting {
		fmt.Fprintf(r.out, " uptime %s", snap.Uptime.Truncate(time.Second))
	}
	if snap.Restarts > 0 {
		fmt.Fprintf(r.out, " restarts %d", snap.Restarts)
	}
	fmt.Fprintln(r.out)
}

func (r *Repl) cmdLifecycle(args []string, op string, one func(string) error, all func() error) {
	if len(args) == 0 {
		r.red.Fprintf(r.out, "usage: %s <name|all>\n", op)
		return
	}
	var err error
	if args[0] == "all" {
		err = all()
	} else {
		err = one(args[0])
	}
	if err != nil {
		r.red.Fprintf(r.out, "%s failed: %v\n", op, err)
		return
	}
	r.green.Fprintf(r.out, "%s: ok\n", op)
}

func (r *Repl) cmdConfig(args []string) {
	if len(args) == 0 {
		r.red.Fprintln(r.out, "usage: config <name>")
		return
	}
	spec, err := r.facade.SpecOf(args[0])
	if err != nil {
		r.red.Fprintf(r.out, "%v\n", err)
		return
	}
	fmt.Fprintf(r.out, "program %s\n", spec.Name)
	fmt.Fprintf(r.out, "  cmd           %s\n", spec.Command)
	fmt.Fprintf(r.out, "  numprocs      %d\n", spec.NumProcs)
	fmt.Fprintf(r.out, "  autostart     %v\n", spec.AutoStart)
	fmt.Fprintf(r.out, "  autorestart   %s\n", spec.Restart)
	fmt.Fprintf(r.out, "  exitcodes     %v\n", spec.ExitCodes)
	fmt.Fprintf(r.out, "  startretries  %d\n", spec.StartRetries)
	fmt.Fprintf(r.out, "  starttime     %ds\n", spec.StartSecs)
	fmt.Fprintf(r.out, "  stopsignal    %s\n", spec.StopSignal)
	fmt.Fprintf(r.out, "  stoptime      %ds\n", spec.StopSecs)
	if spec.WorkingDir != "" {
		fmt.Fprintf(r.out, "  workingdir    %s\n", spec.WorkingDir)
	}
	if spec.Umask >= 0 {
		fmt.Fprintf(r.out, "  umask         %03o\n", spec.Umask)
	}
	if spec.StdoutPath != "" {
		fmt.Fprintf(r.out, "  stdout        %s\n", spec.StdoutPath)
	}
	if spec.StderrPath != "" {
		fmt.Fprintf(r.out, "  stderr        %s\n", spec.StderrPath)
	}
	if spec.DiscardOutput {
		fmt.Fprintln(r.out, "  discardoutput true")
	}
	for _, k := range sortedKeys(spec.Environment) {
		fmt.Fprintf(r.out, "  env           %s=%s\n", k, spec.Environment[k])
	}
}

func (r *Repl) cmdSignal(args []string) {
	if len(args) < 2 {
		r.red.Fprintln(r.out, "usage: signal <name> <SIG>")
		return
	}
	sig := strings.ToUpper(strings.TrimPrefix(args[1], "SIG"))
	if err := r.facade.Signal(args[0], sig); err != nil {
		r.red.Fprintf(r.out, "signal failed: %v\n", err)
		return
	}
	r.green.Fprintf(r.out, "sent SIG%s to %s\n", sig, args[0])
}

func (r *Repl) cmdSys() {
	info := sysCollect()
	fmt.Fprintf(r.out, "host    %s (%s/%s, kernel %s)\n", info.Hostname, info.OS, info.Arch, info.Kernel)
	fmt.Fprintf(r.out, "cpu     %d cores, %.1f%% used\n", info.CPUCount, info.CPUUsage)
	fmt.Fprintf(r.out, "memory  %d / %d MB\n", info.UsedMemory/1024/1024, info.TotalMemory/1024/1024)
	fmt.Fprintf(r.out, "load    %.2f %.2f %.2f\n", info.LoadAverage.One, info.LoadAverage.Five, info.LoadAverage.Fifteen)
	fmt.Fprintf(r.out, "uptime  %ds\n", info.Uptime)
	if info.Battery != nil {
		fmt.Fprintf(r.out, "battery %.0f%% (%s)\n", info.Battery.Percent, info.Battery.State)
	}
}

func (r *Repl) cmdHelp(args []string) {
	if len(args) > 0 {
		if text, ok := helpTopics[strings.ToLower(args[0])]; ok {
			fmt.Fprintln(r.out, text)
			return
		}
		r.red.Fprintf(r.out, "no help for %q\n", args[0])
		return
	}
	for _, topic := range []string{"status", "start", "stop", "restart", "reload", "config", "signal", "sys", "shutdown", "exit", "version", "help"} {
		fmt.Fprintln(r.out, helpTopics[topic])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sysCollect is indirected for tests.
var sysCollect = sysinfo.Collect

// ValidSignal reports whether name can be delivered on this platform.
func ValidSignal(name string) bool {
	_, err := ports.LookupSignal(name)
	return err == nil
}
