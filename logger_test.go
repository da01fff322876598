package zcomm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogger(t *testing.T) {
	l, err := ParseLogger("debug", "JSON")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = ParseLogger("verbose", "console")
	require.Error(t, err)
	_, err = ParseLogger("info", "xml")
	require.Error(t, err)
}

func TestSetDefaultLogger(t *testing.T) {
	orig := DefaultLogger()
	defer SetDefaultLogger(orig)

	l := NewLogger(zapcore.ErrorLevel, "console")
	SetDefaultLogger(l)
	require.Equal(t, l, DefaultLogger())
	SetDefaultLogger(nil)
	require.Equal(t, l, DefaultLogger())
}
