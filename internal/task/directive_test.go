package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectives(t *testing.T) {
	got, err := ParseDirectives("bst_run[file=out.xml, mode=append],notify, cleanup[]")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, Directive{Name: "bst_run", Args: map[string]string{"file": "out.xml", "mode": "append"}}, got[0])
	assert.Equal(t, "notify", got[1].Name)
	assert.Empty(t, got[1].Args)
	assert.Equal(t, "cleanup", got[2].Name)

	none, err := ParseDirectives("  ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestParseDirectivesRejects(t *testing.T) {
	for _, bad := range []string{
		"bst_run[file=x",
		"bst_run]",
		"bst_run[file]",
		"bst run",
		"run[=x]",
		"a,,b",
	} {
		_, err := ParseDirectives(bad)
		assert.ErrorIs(t, err, ErrBadDirective, bad)
	}
}
