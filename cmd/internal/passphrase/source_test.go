package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("SALECTL_TEST_PASS", "hunter2")
	src := NewSource("SALECTL_TEST_PASS", "")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)

	t.Setenv("SALECTL_TEST_PASS", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("SALECTL_TEST_PASS", "   ")
	_, err := NewSource("SALECTL_TEST_PASS", "controller keystore passphrase").Get()
	require.ErrorContains(t, err, "SALECTL_TEST_PASS is set but empty")
}
