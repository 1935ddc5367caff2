package record_test

import (
	"testing"

	"coplayer/perrors"
	"coplayer/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushDrainOrder(t *testing.T) {
	buf := record.NewBuffer(4)
	for i := uint32(0); i < 3; i++ {
		require.Nil(t, buf.Push(record.Record{}.WithLoc(i)))
	}
	out := buf.Drain()
	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, uint32(i), r.Loc)
	}
	assert.Equal(t, 0, buf.Len())
}

func TestPushOverflow(t *testing.T) {
	buf := record.NewBuffer(2)
	require.Nil(t, buf.Push(record.Record{}))
	require.Nil(t, buf.Push(record.Record{}))
	err := buf.Push(record.Record{})
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.Of(perrors.BufTooSmall))
}

func TestDrainThenPushWraps(t *testing.T) {
	buf := record.NewBuffer(3)
	require.Nil(t, buf.Push(record.Record{}.WithLoc(1)))
	require.Nil(t, buf.Push(record.Record{}.WithLoc(2)))
	buf.Drain()
	require.Nil(t, buf.Push(record.Record{}.WithLoc(3)))
	require.Nil(t, buf.Push(record.Record{}.WithLoc(4)))
	out := buf.Drain()
	require.Len(t, out, 2)
	assert.Equal(t, uint32(3), out[0].Loc)
	assert.Equal(t, uint32(4), out[1].Loc)
}
