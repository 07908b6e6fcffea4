package pagestore

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replicore/wscache/internal/bytesize"
	"github.com/replicore/wscache/pkg/mapping"
)

func TestWalkStopsAtSentinel(t *testing.T) {
	s := newTestStore(t, 4096, 1<<20, 10)

	b1, err := s.Malloc(100)
	require.NoError(t, err)
	b1.SetSeqno(1)
	b2, err := s.Malloc(200)
	require.NoError(t, err)
	b2.SetSeqno(2)
	s.Free(b1)

	page := b1.Page()
	var recs []Record
	err = Walk(bytes.NewReader(page.data), int64(page.Size()), func(r Record) bool {
		recs = append(recs, r)
		return true
	})
	require.NoError(t, err)

	require.Len(t, recs, 2)
	require.Equal(t, Record{Offset: 0, Size: 100, Seqno: 1, Ctx: page.ID(),
		Flags: FlagReleased, Store: StoreInPage}, recs[0])
	require.Equal(t, int64(100), recs[1].Offset)
	require.Equal(t, int64(2), recs[1].Seqno)
	require.False(t, recs[1].Released())
}

func TestWalkEarlyStop(t *testing.T) {
	s := newTestStore(t, 4096, 1<<20, 10)

	for range 3 {
		_, err := s.Malloc(100)
		require.NoError(t, err)
	}

	page := s.current
	n := 0
	err := Walk(bytes.NewReader(page.data), int64(page.Size()), func(Record) bool {
		n++
		return n < 2
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestWalkCorruptHeader(t *testing.T) {
	data := make([]byte, 256)
	hdrSetSize(data, 0, 100000) // runs past the end

	err := Walk(bytes.NewReader(data), 256, func(Record) bool { return true })
	require.Error(t, err)
}

// Walking the on-disk file of a store page through the encrypted reader
// must see the same records the mapping held.
func TestWalkEncryptedFile(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	cfg := mapping.Config{
		Encrypt:       true,
		Key:           key,
		CachePageSize: 1024,
		CacheSize:     64 * bytesize.KiB,
	}
	factory, err := mapping.NewFactory(cfg)
	require.NoError(t, err)

	dir := t.TempDir()
	s, err := New(Options{
		Dir: dir, Name: "gcache", PageSize: 4096,
		KeepSize: 1 << 20, KeepCount: 10,
		Factory: factory,
	})
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Malloc(500)
	require.NoError(t, err)
	b.SetSeqno(99)
	copy(b.Bytes(), []byte("encrypted write-set"))

	page := b.Page()
	name := page.Name()

	// Flush ciphertext to the file; the page stays mapped and held.
	require.NoError(t, page.mmap.Sync())

	r, err := mapping.NewReader(name, cfg)
	require.NoError(t, err)
	defer r.Close()

	var recs []Record
	require.NoError(t, Walk(r, r.Size(), func(rec Record) bool {
		recs = append(recs, rec)
		return true
	}))

	require.Len(t, recs, 1)
	require.Equal(t, int64(99), recs[0].Seqno)
	require.Equal(t, 500, recs[0].Size)

	payload := make([]byte, 19)
	_, err = r.ReadAt(payload, recs[0].Offset+HeaderSize)
	require.NoError(t, err)
	require.Equal(t, []byte("encrypted write-set"), payload)

	// The raw file must not leak the payload.
	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	require.False(t, bytes.Contains(raw, []byte("encrypted write-set")))
}
