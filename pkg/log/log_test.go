package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	require.NoError(t, SetLevel("debug"))
	require.Equal(t, zapcore.DebugLevel, Level())

	require.NoError(t, SetLevel("Warning"))
	require.Equal(t, zapcore.WarnLevel, Level())

	require.NoError(t, SetLevel(""))
	require.Equal(t, zapcore.InfoLevel, Level())

	require.Error(t, SetLevel("verbose"))
	require.Equal(t, zapcore.InfoLevel, Level())
}
