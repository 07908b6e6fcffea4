package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replicore/wscache/pkg/config"
)

func newTestCache(t *testing.T, mutate func(*config.Config)) *Cache {
	t.Helper()

	cfg := config.Default()
	cfg.Dir = t.TempDir()
	cfg.Name = "wscache.cache"
	cfg.PageSize = 4096
	if mutate != nil {
		mutate(cfg)
	}

	c, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestMallocAndCommitFlow(t *testing.T) {
	c := newTestCache(t, nil)

	b, err := c.Malloc(100)
	require.NoError(t, err)
	require.Equal(t, 100, b.Size())
	copy(b.Bytes(), []byte("trx payload"))

	require.NoError(t, c.SeqnoAssign(b, 1))

	got, err := c.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("trx payload"), got.Bytes()[:11])

	st := c.Stats()
	require.Equal(t, 1, st.Retained)
	require.Equal(t, int64(1), st.MinSeqno)
	require.Equal(t, int64(1), st.MaxSeqno)
}

func TestSeqnoAssignMonotonic(t *testing.T) {
	c := newTestCache(t, nil)

	b1, err := c.Malloc(50)
	require.NoError(t, err)
	require.NoError(t, c.SeqnoAssign(b1, 5))

	b2, err := c.Malloc(50)
	require.NoError(t, err)
	require.ErrorIs(t, c.SeqnoAssign(b2, 5), ErrNonMonotonicSeqno)
	require.ErrorIs(t, c.SeqnoAssign(b2, 3), ErrNonMonotonicSeqno)
	require.NoError(t, c.SeqnoAssign(b2, 6))
}

func TestReleaseUpTo(t *testing.T) {
	c := newTestCache(t, nil)

	for i := int64(1); i <= 5; i++ {
		b, err := c.Malloc(50)
		require.NoError(t, err)
		require.NoError(t, c.SeqnoAssign(b, i))
	}

	released := c.ReleaseUpTo(3)
	require.Equal(t, 3, released)
	require.Equal(t, int64(4), c.MinSeqno())

	_, err := c.Get(2)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.Get(4)
	require.NoError(t, err)

	// Releasing everything reclaims the pages under zero budgets.
	c.ReleaseUpTo(5)
	st := c.Stats()
	require.Equal(t, 0, st.Retained)
	require.Equal(t, 0, st.Pages)
	require.Equal(t, 0, st.TotalSize)
}

func TestDiscardRolledBack(t *testing.T) {
	c := newTestCache(t, nil)

	b, err := c.Malloc(100)
	require.NoError(t, err)
	c.Discard(b)

	st := c.Stats()
	require.Equal(t, 0, st.Retained)
	require.Equal(t, 0, st.Pages, "rolled back write-set empties the page")
}

func TestReallocKeepsSeqnoIndex(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Config) {
		cfg.PageSize = 256
		cfg.KeepPagesSize = 1 << 20
		cfg.KeepPagesCount = 16
	})

	b, err := c.Malloc(100)
	require.NoError(t, err)
	copy(b.Bytes(), []byte("resized"))
	require.NoError(t, c.SeqnoAssign(b, 1))

	// Force a move to a new page.
	nb, err := c.Realloc(b, 400)
	require.NoError(t, err)
	require.NotEqual(t, b, nb)

	got, err := c.Get(1)
	require.NoError(t, err)
	require.Equal(t, nb, got, "index must follow the moved buffer")
	require.Equal(t, []byte("resized"), got.Bytes()[:7])
}

func TestSetParamRoutesToStore(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Config) {
		cfg.PageSize = 256
		cfg.KeepPagesSize = 1 << 20
		cfg.KeepPagesCount = 16
	})

	// Fill three pages, then release everything; all retained.
	for i := int64(1); i <= 3; i++ {
		b, err := c.Malloc(200)
		require.NoError(t, err)
		require.NoError(t, c.SeqnoAssign(b, i))
	}
	c.ReleaseUpTo(3)
	require.Equal(t, 3, c.Stats().Pages)

	// Tightening the budget through the parameter registry evicts.
	require.NoError(t, c.SetParam(config.ParamKeepPagesCount, "1"))
	require.NoError(t, c.SetParam(config.ParamKeepPagesSize, "0"))
	require.Equal(t, 0, c.Stats().Pages)
}

func TestSetParamErrors(t *testing.T) {
	c := newTestCache(t, nil)

	require.ErrorIs(t, c.SetParam(config.ParamDir, "/elsewhere"), config.ErrReadOnlyParameter)
	require.ErrorIs(t, c.SetParam("gcache.mystery", "1"), config.ErrUnknownParameter)

	v, err := c.Param(config.ParamPageSize)
	require.NoError(t, err)
	require.Equal(t, "4Ki", v)
}

func TestCacheReset(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Config) {
		cfg.KeepPagesSize = 1 << 20
		cfg.KeepPagesCount = 16
	})

	for i := int64(1); i <= 3; i++ {
		b, err := c.Malloc(100)
		require.NoError(t, err)
		require.NoError(t, c.SeqnoAssign(b, i))
	}

	c.Reset()

	st := c.Stats()
	require.Equal(t, 0, st.Retained)
	require.Equal(t, 0, st.Pages)
	require.Equal(t, int64(0), c.MinSeqno())

	// The cache keeps working after a reset.
	b, err := c.Malloc(100)
	require.NoError(t, err)
	require.NoError(t, c.SeqnoAssign(b, 10))
}