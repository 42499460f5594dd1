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

// Package config parses the YAML catalog and hands the supervision core
// already-validated program specs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
)

// DefaultPath is the config file used when none is given on the command line.
const DefaultPath = "taskmaster.yaml"

const (
	DefaultControlAddr = "127.0.0.1:9090"
	DefaultHTTPAddr    = "127.0.0.1:8080"
)

// Global carries the daemon-wide settings.
type Global struct {
	LogFile  string
	LogLevel int
	LogDir   string
	Control  string
	HTTP     string
	Watch    bool
}

type rawGlobal struct {
	LogFile  string `yaml:"logfile"`
	LogLevel *int   `yaml:"loglevel"`
	LogDir   string `yaml:"logdir"`
	Control  string `yaml:"control"`
	HTTP     string `yaml:"http"`
	Watch    bool   `yaml:"watch"`
}

// Catalog is the parsed and validated configuration.
type Catalog struct {
	Global   Global
	Programs map[string]*supervisor.ProgramSpec
}

type file struct {
	Global   rawGlobal             `yaml:"global"`
	Programs map[string]rawProgram `yaml:"programs"`
}

type rawProgram struct {
	Cmd           string            `yaml:"cmd"`
	NumProcs      *int              `yaml:"numprocs"`
	AutoStart     *bool             `yaml:"autostart"`
	AutoRestart   *restartValue     `yaml:"autorestart"`
	ExitCodes     *exitCodes        `yaml:"exitcodes"`
	StartRetries  *int              `yaml:"startretries"`
	StartTime     *int              `yaml:"starttime"`
	StopSignal    string            `yaml:"stopsignal"`
	StopTime      *int              `yaml:"stoptime"`
	WorkingDir    string            `yaml:"workingdir"`
	Umask         *umaskValue       `yaml:"umask"`
	Stdout        string            `yaml:"stdout"`
	Stderr        string            `yaml:"stderr"`
	DiscardOutput bool              `yaml:"discardoutput"`
	Env           map[string]string `yaml:"env"`
}

// Load reads and validates the catalog at path. Programs that fail
// validation are reported in the second return value; the catalog proceeds
// with the valid remainder. The error is non-nil only when nothing usable
// could be loaded.
func Load(path string) (*Catalog, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse is Load on bytes; split out for tests.
func Parse(data []byte) (*Catalog, []error, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(f.Programs) == 0 {
		return nil, nil, fmt.Errorf("config has no programs")
	}

	g := Global{
		LogFile:  f.Global.LogFile,
		LogLevel: logging.LevelInfo,
		LogDir:   f.Global.LogDir,
		Control:  f.Global.Control,
		HTTP:     f.Global.HTTP,
		Watch:    f.Global.Watch,
	}
	if f.Global.LogLevel != nil {
		g.LogLevel = *f.Global.LogLevel
	}
	if g.Control == "" {
		g.Control = DefaultControlAddr
	}
	if g.HTTP == "" {
		g.HTTP = DefaultHTTPAddr
	}
	if g.LogLevel < 0 {
		g.LogLevel = 0
	}
	if g.LogLevel > 3 {
		g.LogLevel = 3
	}

	catalog := &Catalog{
		Global:   g,
		Programs: make(map[string]*supervisor.ProgramSpec, len(f.Programs)),
	}
	var invalid []error
	for name, raw := range f.Programs {
		spec := buildSpec(name, raw, g.LogDir)
		if err := spec.Validate(); err != nil {
			invalid = append(invalid, fmt.Errorf("program %q: %w", name, err))
			continue
		}
		catalog.Programs[name] = spec
	}
	if len(catalog.Programs) == 0 {
		return nil, invalid, fmt.Errorf("no valid programs in config")
	}
	return catalog, invalid, nil
}

func buildSpec(name string, raw rawProgram, logDir string) *supervisor.ProgramSpec {
	spec := &supervisor.ProgramSpec{
		Name:          name,
		Command:       raw.Cmd,
		NumProcs:      1,
		AutoStart:     true,
		Restart:       supervisor.RestartOnUnexpected,
		ExitCodes:     []int{0},
		StartRetries:  3,
		StartSecs:     1,
		StopSignal:    "TERM",
		StopSecs:      10,
		WorkingDir:    raw.WorkingDir,
		Umask:         -1,
		Environment:   raw.Env,
		DiscardOutput: raw.DiscardOutput,
	}
	if raw.NumProcs != nil {
		spec.NumProcs = *raw.NumProcs
	}
	if raw.AutoStart != nil {
		spec.AutoStart = *raw.AutoStart
	}
	if raw.AutoRestart != nil {
		spec.Restart = raw.AutoRestart.policy
	}
	if raw.ExitCodes != nil {
		spec.ExitCodes = raw.ExitCodes.codes
	}
	if raw.StartRetries != nil {
		spec.StartRetries = *raw.StartRetries
	}
	if raw.StartTime != nil {
		spec.StartSecs = *raw.StartTime
	}
	if raw.StopSignal != "" {
		spec.StopSignal = strings.TrimPrefix(strings.ToUpper(raw.StopSignal), "SIG")
	}
	if raw.StopTime != nil {
		spec.StopSecs = *raw.StopTime
	}
	if raw.Umask != nil {
		spec.Umask = raw.Umask.mode
	}
	spec.StdoutPath = resolveLogPath(raw.Stdout, logDir)
	spec.StderrPath = resolveLogPath(raw.Stderr, logDir)
	return spec
}

// resolveLogPath anchors relative child log paths under the global logdir.
func resolveLogPath(path, logDir string) string {
	if path == "" || filepath.IsAbs(path) || logDir == "" {
		return path
	}
	return filepath.Join(logDir, path)
}
