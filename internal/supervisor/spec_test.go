/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see spec.go for full license header)
 ***************************************************************************** */

package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec(name string) *ProgramSpec {
	return &ProgramSpec{
		Name:         name,
		Command:      "sleep 60",
		NumProcs:     1,
		ExitCodes:    []int{0},
		StartRetries: 3,
		StartSecs:    1,
		StopSignal:   "TERM",
		StopSecs:     5,
		Umask:        -1,
	}
}

func TestSpecValidate(t *testing.T) {
	require.NoError(t, validSpec("web").Validate())

	cases := []struct {
		name   string
		mutate func(*ProgramSpec)
		field  string
	}{
		{"empty name", func(s *ProgramSpec) { s.Name = "" }, "name"},
		{"empty cmd", func(s *ProgramSpec) { s.Command = "  " }, "cmd"},
		{"zero numprocs", func(s *ProgramSpec) { s.NumProcs = 0 }, "numprocs"},
		{"zero starttime", func(s *ProgramSpec) { s.StartSecs = 0 }, "starttime"},
		{"zero stoptime", func(s *ProgramSpec) { s.StopSecs = 0 }, "stoptime"},
		{"negative retries", func(s *ProgramSpec) { s.StartRetries = -1 }, "startretries"},
		{"umask out of range", func(s *ProgramSpec) { s.Umask = 0o1000 }, "umask"},
		{"no exitcodes", func(s *ProgramSpec) { s.ExitCodes = nil }, "exitcodes"},
		{"bad stopsignal", func(s *ProgramSpec) { s.StopSignal = "KILL" }, "stopsignal"},
		{"unterminated quote", func(s *ProgramSpec) { s.Command = `sh -c "oops` }, "cmd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec("web")
			tc.mutate(spec)
			err := spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/bin/true", []string{"/bin/true"}},
		{"sleep 60", []string{"sleep", "60"}},
		{`sh -c "trap '' TERM; sleep 10"`, []string{"sh", "-c", "trap '' TERM; sleep 10"}},
		{`echo 'hello world' done`, []string{"echo", "hello world", "done"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}
	for _, tc := range cases {
		got, err := splitCommand(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := splitCommand("   ")
	assert.Error(t, err)
}

func TestLogPathSuffix(t *testing.T) {
	single := validSpec("web")
	assert.Equal(t, "/var/log/web.log", single.LogPath("/var/log/web.log", 0))

	multi := validSpec("web")
	multi.NumProcs = 3
	assert.Equal(t, "/var/log/web-0.log", multi.LogPath("/var/log/web.log", 0))
	assert.Equal(t, "/var/log/web-2.log", multi.LogPath("/var/log/web.log", 2))
	assert.Equal(t, "/var/log/web-1", multi.LogPath("/var/log/web", 1))
	assert.Equal(t, "", multi.LogPath("", 1))
}

func TestSignificantlyDiffers(t *testing.T) {
	base := validSpec("web")

	insignificant := *base
	insignificant.Restart = RestartAlways
	insignificant.StartRetries = 9
	insignificant.StartSecs = 7
	insignificant.ExitCodes = []int{0, 2}
	assert.False(t, base.SignificantlyDiffers(&insignificant))
	assert.False(t, base.Equal(&insignificant))

	for _, mutate := range []func(*ProgramSpec){
		func(s *ProgramSpec) { s.Command = "sleep 120" },
		func(s *ProgramSpec) { s.NumProcs = 2 },
		func(s *ProgramSpec) { s.StopSignal = "USR1" },
		func(s *ProgramSpec) { s.StopSecs = 9 },
		func(s *ProgramSpec) { s.WorkingDir = "/tmp" },
		func(s *ProgramSpec) { s.Umask = 0o22 },
		func(s *ProgramSpec) { s.Environment = map[string]string{"A": "1"} },
		func(s *ProgramSpec) { s.StdoutPath = "out.log" },
		func(s *ProgramSpec) { s.DiscardOutput = true },
	} {
		next := *base
		mutate(&next)
		assert.True(t, base.SignificantlyDiffers(&next))
	}

	same := *base
	assert.True(t, base.Equal(&same))
	multi := *base
	multi.ExitCodes = []int{0, 2}
	reordered := multi
	reordered.ExitCodes = []int{2, 0}
	assert.True(t, multi.Equal(&reordered))
}

func TestExpectedExit(t *testing.T) {
	spec := validSpec("web")
	spec.ExitCodes = []int{0, 2}
	assert.True(t, spec.ExpectedExit(0))
	assert.True(t, spec.ExpectedExit(2))
	assert.False(t, spec.ExpectedExit(1))
}

func TestBackoffDelayClamp(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 4*time.Second, backoffDelay(3))
	assert.Equal(t, 16*time.Second, backoffDelay(5))
	// 2^5 would be 32; the sixth attempt clamps to 20.
	assert.Equal(t, 20*time.Second, backoffDelay(6))
	assert.Equal(t, 20*time.Second, backoffDelay(50))
}
