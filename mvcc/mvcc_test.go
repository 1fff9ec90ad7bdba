package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockMonotonic(t *testing.T) {
	c := NewClock(0)
	ts1 := c.Next()
	ts2 := c.Next()
	require.Greater(t, uint64(ts2), uint64(ts1))
	require.Equal(t, ts2, c.Current())
}

func TestClockSeeded(t *testing.T) {
	c := NewClock(1000)
	require.Equal(t, Timestamp(1001), c.Next())
}

func TestVersionVisibleAt(t *testing.T) {
	var chain *Version
	chain = NewPut(10, []byte("v10"), chain)
	chain = NewPut(20, []byte("v20"), chain)
	chain = NewTombstone(30, chain)

	require.Nil(t, chain.VisibleAt(5))

	v := chain.VisibleAt(15)
	require.NotNil(t, v)
	require.Equal(t, []byte("v10"), v.Value)

	v = chain.VisibleAt(25)
	require.Equal(t, []byte("v20"), v.Value)

	v = chain.VisibleAt(30)
	require.True(t, v.Tombstone)
}

func TestVersionNewestCommitAfter(t *testing.T) {
	var chain *Version
	chain = NewPut(10, []byte("a"), chain)
	chain = NewPut(20, []byte("b"), chain)

	ts, ok := chain.NewestCommitAfter(5, 25)
	require.True(t, ok)
	require.Equal(t, Timestamp(20), ts)

	_, ok = chain.NewestCommitAfter(20, 25)
	require.False(t, ok)
}

func TestRegistryWatermark(t *testing.T) {
	clock := NewClock(100)
	reg := NewRegistry(clock)

	require.Equal(t, Timestamp(100), reg.Watermark())

	id1 := reg.Acquire(50)
	id2 := reg.Acquire(30)
	require.Equal(t, Timestamp(30), reg.Watermark())

	reg.Release(id2)
	require.Equal(t, Timestamp(50), reg.Watermark())

	reg.Release(id1)
	require.Equal(t, Timestamp(100), reg.Watermark())
}

func TestVersionGCPrune(t *testing.T) {
	var chain *Version
	chain = NewPut(10, []byte("a"), chain)
	chain = NewPut(20, []byte("b"), chain)
	chain = NewPut(30, []byte("c"), chain)

	pruned := chain.GCPrune(25)
	require.Equal(t, 2, pruned.Count())
	require.Equal(t, Timestamp(30), pruned.CommitTS)
	require.Equal(t, Timestamp(20), pruned.Next.CommitTS)
}
