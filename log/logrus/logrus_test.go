package logrus

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache"
)

func TestEntriesCarryComponentAndError(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Warn("mutation failed", querycache.Fields{"op": "like", "err": errors.New("boom")})

	e := hook.LastEntry()
	require.NotNil(t, e)
	require.Equal(t, logrus.WarnLevel, e.Level)
	require.Equal(t, "querycache", e.Data["component"])
	require.Equal(t, "like", e.Data["op"])
	require.EqualError(t, e.Data[logrus.ErrorKey].(error), "boom")
}
