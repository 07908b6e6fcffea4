package pagestore

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/replicore/wscache/pkg/mapping"
)

func newTestPage(t *testing.T, size int) *Page {
	t.Helper()

	factory, err := mapping.NewFactory(mapping.Config{})
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "gcache.page.000000")
	p, err := newPage(path, size, 0, factory, 0)
	if err != nil {
		t.Fatalf("newPage() error = %v", err)
	}
	t.Cleanup(func() { p.close() })
	return p
}

func TestPageMallocPlacesHeader(t *testing.T) {
	p := newTestPage(t, 4096)

	b := p.malloc(100)
	if !b.IsValid() {
		t.Fatal("malloc(100) failed on an empty page")
	}

	if got := hdrSize(p.data, b.off); got != 100 {
		t.Errorf("header size = %d, want 100", got)
	}
	if got := hdrSeqno(p.data, b.off); got != SeqnoNone {
		t.Errorf("header seqno = %d, want SeqnoNone", got)
	}
	if got := hdrCtx(p.data, b.off); got != p.id {
		t.Errorf("header ctx = %d, want %d", got, p.id)
	}
	if got := hdrStore(p.data, b.off); got != StoreInPage {
		t.Errorf("header store = %d, want StoreInPage", got)
	}

	if p.next != 100 || p.space != 4096-100 || p.used != 1 {
		t.Errorf("page state next=%d space=%d used=%d", p.next, p.space, p.used)
	}
}

func TestPageSentinelAtCursor(t *testing.T) {
	p := newTestPage(t, 4096)

	p.malloc(100)
	p.malloc(200)

	for i := range HeaderSize {
		if p.data[p.next+i] != 0 {
			t.Fatalf("byte %d after cursor is %#x, want zeroed sentinel", i, p.data[p.next+i])
		}
	}
}

func TestPageMallocMiss(t *testing.T) {
	p := newTestPage(t, 128)

	if b := p.malloc(200); b.IsValid() {
		t.Fatal("malloc(200) succeeded on a 128-byte page")
	}
	if p.used != 0 || p.space != 128 {
		t.Errorf("miss mutated the page: used=%d space=%d", p.used, p.space)
	}
}

func TestPagePayloadAlignment(t *testing.T) {
	p := newTestPage(t, 4096)

	for range 4 {
		b := p.malloc(100)
		if b.off%8 != 0 {
			t.Errorf("header at offset %d not 8-byte aligned", b.off)
		}
		// Keep headers aligned for the next allocation too.
		p.realloc(b, 104)
	}
}

func TestPageInvariantAfterOperations(t *testing.T) {
	p := newTestPage(t, 4096)

	check := func() {
		t.Helper()
		if p.next+p.space != p.Size() {
			t.Fatalf("invariant broken: next(%d) + space(%d) != size(%d)",
				p.next, p.space, p.Size())
		}
	}

	b1 := p.malloc(100)
	check()
	b2 := p.malloc(300)
	check()
	p.realloc(b2, 500)
	check()
	p.realloc(b2, 200)
	check()
	p.free(b1.off)
	check()
	hdrSetSeqno(p.data, b1.off, SeqnoIll)
	p.discard(b1.off)
	check()
}

func TestPageFreeKeepsUsed(t *testing.T) {
	p := newTestPage(t, 4096)

	b := p.malloc(100)
	p.free(b.off)

	if !hdrIsReleased(p.data, b.off) {
		t.Error("free did not mark the header released")
	}
	if p.used != 1 {
		t.Errorf("free changed used to %d", p.used)
	}
	if p.space != 4096-100 {
		t.Errorf("free returned space to the page: space=%d", p.space)
	}
}

func TestPageResetRestoresOffsets(t *testing.T) {
	p := newTestPage(t, 4096)

	b := p.malloc(1000)
	first := b.off
	p.free(b.off)
	hdrSetSeqno(p.data, b.off, SeqnoIll)
	p.discard(b.off)

	p.Reset()
	if p.space != p.Size() || p.next != 0 {
		t.Fatalf("reset left space=%d next=%d", p.space, p.next)
	}

	nb := p.malloc(1000)
	if nb.off != first {
		t.Errorf("malloc after reset at offset %d, want %d", nb.off, first)
	}
}

func TestPageHeaderRoundTrip(t *testing.T) {
	p := newTestPage(t, 4096)

	b := p.malloc(64)
	payload := b.Bytes()
	if len(payload) != 64-HeaderSize {
		t.Fatalf("payload length = %d, want %d", len(payload), 64-HeaderSize)
	}

	// The handle's view and the raw page bytes are the same memory.
	copy(payload, []byte("round trip"))
	if !bytes.Equal(p.data[b.off+HeaderSize:b.off+HeaderSize+10], []byte("round trip")) {
		t.Error("payload write not visible through the page view")
	}

	b.SetSeqno(7)
	if b.Seqno() != 7 || hdrSeqno(p.data, b.off) != 7 {
		t.Error("seqno round trip through the handle failed")
	}
}

func TestPageDumpListsLiveBuffers(t *testing.T) {
	p := newTestPage(t, 4096)
	p.setDebug(1)

	b1 := p.malloc(100)
	p.malloc(100)

	p.free(b1.off)

	var buf bytes.Buffer
	p.Dump(&buf)
	out := buf.String()

	if !strings.Contains(out, "used: 2") {
		t.Errorf("dump missing used count: %q", out)
	}
	if !strings.Contains(out, "off: 100") {
		t.Errorf("dump missing live buffer at offset 100: %q", out)
	}
	if strings.Contains(out, "off: 0,") {
		t.Errorf("dump lists released buffer: %q", out)
	}
}

func TestPageDropFSCache(t *testing.T) {
	p := newTestPage(t, 4096)
	p.malloc(100)
	p.DropFSCache() // advisory only; must not disturb the page
	if p.used != 1 {
		t.Errorf("used = %d after DropFSCache", p.used)
	}
}
