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

// Package ctlsock serves the line-oriented control protocol on the control
// port. One goroutine per connection; every command is relayed to the
// control facade and answered with a short textual ack.
package ctlsock

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nehonix-Team/taskmaster/internal/control"
	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
)

const (
	greeting = "taskmaster control socket"
	prompt   = "> "
)

// Server accepts control connections on a TCP address.
type Server struct {
	facade *control.Facade
	log    *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	closing  bool
}

func New(facade *control.Facade, log *logging.Logger) *Server {
	return &Server{
		facade: facade,
		log:    log,
		conns:  make(map[string]net.Conn),
	}
}

// Listen binds addr and serves until Close.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Infof("control socket listening on %s", addr)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				s.mu.Lock()
				closing := s.closing
				s.mu.Unlock()
				if !closing {
					s.log.Warnf("control socket accept: %v", err)
				}
				return
			}
			go s.handleConn(conn)
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the listener and hangs up every connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	id := uuid.NewString()
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	s.log.Debugf("control connection %s from %s", id, conn.RemoteAddr())

	out := bufio.NewWriter(conn)
	writeLine := func(line string) {
		_, _ = out.WriteString(line + "\r\n")
	}
	writeLine(greeting)
	_, _ = out.WriteString(prompt)
	_ = out.Flush()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = out.WriteString(prompt)
			_ = out.Flush()
			continue
		}
		quit, shutdown := s.dispatch(line, writeLine)
		if quit {
			_ = out.Flush()
			return
		}
		if shutdown {
			_ = out.Flush()
			go func() { _ = s.facade.Shutdown() }()
			return
		}
		_, _ = out.WriteString(prompt)
		_ = out.Flush()
	}
}

// dispatch runs one command line. It reports whether the connection should
// end, and whether a daemon shutdown was requested.
func (s *Server) dispatch(line string, writeLine func(string)) (quit, shutdown bool) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "status":
		for _, snap := range s.facade.Status() {
			writeLine(FormatStatus(snap))
		}
	case "start":
		s.ack(writeLine, "Started", "start", arg, s.facade.Start)
	case "stop":
		s.ack(writeLine, "Stopped", "stop", arg, s.facade.Stop)
	case "restart":
		s.ack(writeLine, "Restarted", "restart", arg, s.facade.Restart)
	case "reload":
		if err := s.facade.Reload(); err != nil {
			s.log.Warnf("control socket reload: %v", err)
			writeLine("reload failed")
		} else {
			writeLine("Configuration reloaded")
		}
	case "shutdown":
		writeLine("shutting down")
		return false, true
	case "help":
		writeLine("commands: status, start <name>, stop <name>, restart <name>, reload, shutdown, help, exit")
	case "exit", "quit":
		writeLine("bye")
		return true, false
	default:
		writeLine("Unknown command")
	}
	return false, false
}

func (s *Server) ack(writeLine func(string), okVerb, op, name string, fn func(string) error) {
	if name == "" {
		writeLine(op + " failed")
		return
	}
	if err := fn(name); err != nil {
		s.log.Warnf("control socket %s %s: %v", op, name, err)
		writeLine(op + " failed")
		return
	}
	writeLine(okVerb + " " + name)
}

// FormatStatus renders one status entry in the wire format:
// `<name>-<index> (pid <pid>): <State>[, up for <duration>]`.
func FormatStatus(snap supervisor.Snapshot) string {
	line := fmt.Sprintf("%s-%d (pid %d): %s", snap.Program, snap.Index, snap.PID, snap.State)
	if snap.State == supervisor.StateRunning || snap.State == supervisor.StateStarting {
		line += fmt.Sprintf(", up for %s", snap.Uptime.Truncate(time.Second))
	}
	return line
}
