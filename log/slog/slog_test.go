//go:build go1.21

package slog

import (
	"bytes"
	stdslog "log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/querycache"
)

func TestAttrsAreSortedAndLevelsFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("hidden", querycache.Fields{"a": 1})
	l.Info("invalidated", querycache.Fields{"kind": "posts", "ids": 0})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=invalidated ids=0 kind=posts")
}
