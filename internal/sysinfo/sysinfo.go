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

// Package sysinfo reads host and per-process resource figures for the
// operator surfaces (the `sys` shell command and GET /api/system).
package sysinfo

import (
	"runtime"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type HostInfo struct {
	Hostname    string      `json:"hostname"`
	OS          string      `json:"os"`
	Platform    string      `json:"platform"`
	Kernel      string      `json:"kernel"`
	Arch        string      `json:"arch"`
	CPUCount    int         `json:"cpu_count"`
	CPUUsage    float64     `json:"cpu_usage"`
	TotalMemory uint64      `json:"total_memory"`
	UsedMemory  uint64      `json:"used_memory"`
	Uptime      uint64      `json:"uptime"`
	LoadAverage LoadAverage `json:"load_average"`
	// Battery is nil on hosts without one.
	Battery *BatteryInfo `json:"battery,omitempty"`
}

type LoadAverage struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

type BatteryInfo struct {
	Percent float64 `json:"percent"`
	State   string  `json:"state"`
}

// ProcessStat is the resource detail attached to a live worker's status.
type ProcessStat struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryRSS  uint64  `json:"memoryRss"`
}

// Collect gathers the host snapshot. Individual probe failures leave their
// fields zero; the snapshot is best-effort by design.
func Collect() HostInfo {
	info := HostInfo{Arch: runtime.GOARCH, CPUCount: runtime.NumCPU()}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
		info.Kernel = h.KernelVersion
		info.Uptime = h.Uptime
	}
	if v, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = v.Total
		info.UsedMemory = v.Used
	}
	if l, err := load.Avg(); err == nil {
		info.LoadAverage = LoadAverage{One: l.Load1, Five: l.Load5, Fifteen: l.Load15}
	}
	if usages, err := cpu.Percent(0, false); err == nil && len(usages) > 0 {
		info.CPUUsage = usages[0]
	}
	if batteries, err := battery.GetAll(); err == nil && len(batteries) > 0 {
		b := batteries[0]
		pct := 0.0
		if b.Full > 0 {
			pct = b.Current / b.Full * 100
		}
		info.Battery = &BatteryInfo{
			Percent: pct,
			State:   b.State.String(),
		}
	}
	return info
}

// Stat samples CPU and resident memory for one PID. Returns nil when the
// process cannot be inspected (already gone, permissions).
func Stat(pid int) *ProcessStat {
	if pid <= 0 {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	stat := &ProcessStat{}
	if pct, err := p.CPUPercent(); err == nil {
		stat.CPUPercent = pct
	}
	if m, err := p.MemoryInfo(); err == nil {
		stat.MemoryRSS = m.RSS
	}
	return stat
}
