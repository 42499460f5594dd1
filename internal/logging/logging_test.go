/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see logging.go for full license header)
 ***************************************************************************** */

package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineRe = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[(ERROR|WARNING|INFO|DEBUG)\s*\] .+$`)

func TestLineFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")

	log := New(Options{File: path, Level: LevelDebug})
	log.Errorf("boom %d", 1)
	log.Warnf("careful")
	log.Infof("hello %s", "world")
	log.Debugf("noisy")
	log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.Regexp(t, lineRe, line)
	}
	assert.Contains(t, lines[0], "boom 1")
	assert.Contains(t, lines[2], "hello world")
}

func TestLevelThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")

	log := New(Options{File: path, Level: LevelWarning})
	log.Infof("dropped")
	log.Debugf("dropped too")
	log.Warnf("kept")
	log.Errorf("kept too")
	log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "kept too")
}

func TestNopLoggerIsSilent(t *testing.T) {
	log := NewNop()
	log.Errorf("nothing happens")
	log.Sync()
}
