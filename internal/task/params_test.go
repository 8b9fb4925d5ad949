package task

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanArgsFlagForms(t *testing.T) {
	argv := []string{
		"-u", "alice",
		"--sleeptime=1d",
		"-t+2h",
		"--priority", "5",
		"-Nnightly",
		"-I", "chain",
		"--host=node-1",
		"-L", "22:00-03:00",
		"-v9",
		"-F",
		"--stop-on-error",
		"--email-logs-to", "a@example.org, b@example.org",
		"--post-process=bst_run[file=x.xml]",
		"--profile", "cumulative,calls",
		"--task-id=42",
	}
	got, err := ScanArgs(argv)
	require.NoError(t, err)

	stop := true
	want := Params{
		User:         "alice",
		Sleeptime:    "1d",
		Runtime:      "+2h",
		Priority:     5,
		Name:         "nightly",
		SequenceID:   "chain",
		Host:         "node-1",
		RuntimeLimit: "22:00-03:00",
		Verbose:      9,
		FixedTime:    true,
		StopOnError:  &stop,
		EmailLogsTo:  []string{"a@example.org", "b@example.org"},
		PostProcess:  "bst_run[file=x.xml]",
		Profile:      []string{"cumulative", "calls"},
		TaskID:       42,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestScanArgsKeepsUnknownTokens(t *testing.T) {
	got, err := ScanArgs([]string{"-w", "global", "--repair", "-s", "2h", "--batches=3", "-Fx", "--", "-u", "bob"})
	require.NoError(t, err)

	assert.Equal(t, "2h", got.Sleeptime)
	assert.Empty(t, got.User)
	assert.False(t, got.FixedTime)
	assert.Equal(t, []string{"-w", "global", "--repair", "--batches=3", "-Fx", "--", "-u", "bob"}, got.Rest)
}

func TestScanArgsContinueOnError(t *testing.T) {
	got, err := ScanArgs([]string{"--stop-on-error", "--continue-on-error"})
	require.NoError(t, err)
	require.NotNil(t, got.StopOnError)
	assert.False(t, *got.StopOnError)

	got, err = ScanArgs(nil)
	require.NoError(t, err)
	assert.Nil(t, got.StopOnError)
}

func TestScanArgsDefaultVerbosity(t *testing.T) {
	got, err := ScanArgs([]string{"--batches=3"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Verbose)

	got, err = ScanArgs([]string{"-v0"})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Verbose)
}

func TestScanArgsErrors(t *testing.T) {
	bad := [][]string{
		{"-P", "high"},
		{"--verbose=12"},
		{"--runtime"},
		{"-N", "a:b"},
		{"--fixed-time=maybe"},
		{"--task-id", "x"},
	}
	for _, argv := range bad {
		_, err := ScanArgs(argv)
		assert.ErrorIs(t, err, ErrBadArguments, "%v", argv)
	}
}

func TestArgumentsRoundTripKeepsProc(t *testing.T) {
	b, err := EncodeArguments("bibindex:nightly", []string{"-w", "global"})
	require.NoError(t, err)
	assert.JSONEq(t, `["bibindex:nightly","-w","global"]`, string(b))

	proc, argv, err := DecodeArguments(b)
	require.NoError(t, err)
	assert.Equal(t, "bibindex:nightly", proc)
	assert.Equal(t, []string{"-w", "global"}, argv)

	_, _, err = DecodeArguments([]byte(`[]`))
	assert.ErrorIs(t, err, ErrBadArguments)
	_, _, err = DecodeArguments([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadArguments)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "bibindex", KindOf("bibindex:nightly"))
	assert.Equal(t, "bibrank", KindOf("bibrank"))
}
