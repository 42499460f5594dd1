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

// Package supervisor implements the supervision engine: program specs, the
// per-process worker state machine, program fleets, and the engine that owns
// them all and serializes control commands.
package supervisor

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// RestartPolicy says when a worker that exited outside of a stop request is
// respawned.
type RestartPolicy int

const (
	RestartOnUnexpected RestartPolicy = iota
	RestartAlways
	RestartNever
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartAlways:
		return "always"
	case RestartNever:
		return "never"
	default:
		return "unexpected"
	}
}

var validStopSignals = map[string]bool{
	"HUP": true, "INT": true, "QUIT": true, "TERM": true, "USR1": true, "USR2": true,
}

// ProgramSpec is the immutable, validated description of one program. A spec
// is never mutated after Validate; reload installs a fresh value.
type ProgramSpec struct {
	Name          string
	Command       string
	NumProcs      int
	AutoStart     bool
	Restart       RestartPolicy
	ExitCodes     []int
	StartRetries  int
	StartSecs     int
	StopSignal    string
	StopSecs      int
	WorkingDir    string
	// Umask is an octal mode in [0, 0o777], or -1 to inherit the daemon's.
	Umask int
	// Environment is merged over the inherited environment: the child sees
	// the daemon's environment with these pairs appended (inherit-then-
	// override, last occurrence wins per POSIX exec semantics).
	Environment map[string]string
	StdoutPath  string
	StderrPath  string
	DiscardOutput bool
}

// Validate checks the spec invariants. The returned error names the offending
// field.
func (s *ProgramSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name: must not be empty")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("cmd: must not be empty")
	}
	if s.NumProcs < 1 {
		return fmt.Errorf("numprocs: must be >= 1, got %d", s.NumProcs)
	}
	if s.StartSecs < 1 {
		return fmt.Errorf("starttime: must be >= 1, got %d", s.StartSecs)
	}
	if s.StopSecs < 1 {
		return fmt.Errorf("stoptime: must be >= 1, got %d", s.StopSecs)
	}
	if s.StartRetries < 0 {
		return fmt.Errorf("startretries: must be >= 0, got %d", s.StartRetries)
	}
	if s.Umask != -1 && (s.Umask < 0 || s.Umask > 0o777) {
		return fmt.Errorf("umask: must be within [0, 0777], got %#o", s.Umask)
	}
	if len(s.ExitCodes) == 0 {
		return fmt.Errorf("exitcodes: must not be empty")
	}
	if !validStopSignals[s.StopSignal] {
		return fmt.Errorf("stopsignal: %q is not one of HUP, INT, QUIT, TERM, USR1, USR2", s.StopSignal)
	}
	if _, err := splitCommand(s.Command); err != nil {
		return fmt.Errorf("cmd: %v", err)
	}
	return nil
}

// ExpectedExit reports whether code is in the expected set.
func (s *ProgramSpec) ExpectedExit(code int) bool {
	for _, c := range s.ExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Argv tokenizes Command into an argv vector. Tokens split on unquoted
// whitespace; single and double quotes group, with no expansion of any kind
// (there is no shell between the daemon and the child).
func (s *ProgramSpec) Argv() ([]string, error) {
	return splitCommand(s.Command)
}

func splitCommand(command string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	var quote rune
	inToken := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				argv = append(argv, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c-quote", quote)
	}
	if inToken {
		argv = append(argv, cur.String())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

// LogPath computes the log file path for instance index. With NumProcs > 1 a
// `-N` suffix lands before the extension ("app.log" -> "app-2.log"); without
// an extension it is appended.
func (s *ProgramSpec) LogPath(base string, index int) string {
	if base == "" || s.NumProcs <= 1 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), index, ext)
}

// SignificantlyDiffers reports whether replacing s by next forces a full
// restart of the program on reload. Changes to the restart policy, exit
// codes, retries and start window are not significant: they apply on the
// next spawn.
func (s *ProgramSpec) SignificantlyDiffers(next *ProgramSpec) bool {
	return s.Command != next.Command ||
		s.NumProcs != next.NumProcs ||
		s.StopSignal != next.StopSignal ||
		s.StopSecs != next.StopSecs ||
		s.WorkingDir != next.WorkingDir ||
		s.Umask != next.Umask ||
		!equalEnv(s.Environment, next.Environment) ||
		s.StdoutPath != next.StdoutPath ||
		s.StderrPath != next.StderrPath ||
		s.DiscardOutput != next.DiscardOutput
}

// Equal reports full spec equality. Used to make repeated reloads of the same
// catalog a no-op.
func (s *ProgramSpec) Equal(next *ProgramSpec) bool {
	return !s.SignificantlyDiffers(next) &&
		s.AutoStart == next.AutoStart &&
		s.Restart == next.Restart &&
		s.StartRetries == next.StartRetries &&
		s.StartSecs == next.StartSecs &&
		equalExitCodes(s.ExitCodes, next.ExitCodes)
}

func equalEnv(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func equalExitCodes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	bs := append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
