/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see metrics.go for full license header)
 ***************************************************************************** */

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetStateIsExclusive(t *testing.T) {
	SetState("mtest", 0, "Running")
	assert.Equal(t, 1.0, testutil.ToFloat64(programState.WithLabelValues("mtest", "0", "Running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(programState.WithLabelValues("mtest", "0", "Stopped")))

	SetState("mtest", 0, "Backoff")
	assert.Equal(t, 0.0, testutil.ToFloat64(programState.WithLabelValues("mtest", "0", "Running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(programState.WithLabelValues("mtest", "0", "Backoff")))

	DropProgram("mtest")
}

func TestCounters(t *testing.T) {
	IncRestart("mtest2")
	IncRestart("mtest2")
	assert.Equal(t, 2.0, testutil.ToFloat64(restartsTotal.WithLabelValues("mtest2")))

	IncSpawnFailure("mtest2")
	assert.Equal(t, 1.0, testutil.ToFloat64(spawnFailuresTotal.WithLabelValues("mtest2")))

	IncCommand("start", nil)
	IncCommand("start", errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(commandsTotal.WithLabelValues("start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(commandsTotal.WithLabelValues("start", "error")))

	DropProgram("mtest2")
}
