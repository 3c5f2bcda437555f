package zap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/querycache"
)

func TestFieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("fetch failed", querycache.Fields{"query": "feed", "err": errors.New("boom")})
	l.Debug("fetch started", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "querycache", entries[0].LoggerName)

	ctx := entries[0].ContextMap()
	require.Equal(t, "feed", ctx["query"])
	require.Equal(t, "boom", ctx["err"])
}
