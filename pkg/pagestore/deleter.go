package pagestore

import (
	"os"
	"sync"

	"github.com/replicore/wscache/internal/logger"
)

// deleterQueueLen bounds the unlink queue. Evictions are rare relative to
// allocations, so the queue never exerts back-pressure in practice; an
// overflowing enqueue falls back to a one-off goroutine.
const deleterQueueLen = 16

// deleter unlinks evicted page files off the allocation path. The page
// object is already torn down by the time a path is enqueued; the worker
// owns nothing but the path string.
type deleter struct {
	jobs chan string
	wg   sync.WaitGroup
}

func newDeleter() *deleter {
	d := &deleter{jobs: make(chan string, deleterQueueLen)}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for path := range d.jobs {
			unlink(path)
		}
	}()

	return d
}

// enqueue hands a file path to the worker without ever blocking the
// caller.
func (d *deleter) enqueue(path string) {
	select {
	case d.jobs <- path:
	default:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			unlink(path)
		}()
	}
}

// close drains the queue and waits for in-flight unlinks. Called on store
// shutdown so the workers do not outlive the process.
func (d *deleter) close() {
	close(d.jobs)
	d.wg.Wait()
}

func unlink(path string) {
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to unlink page file", logger.KeyPage, path, logger.KeyError, err)
		return
	}
	logger.Debug("unlinked page file", logger.KeyPage, path)
}
