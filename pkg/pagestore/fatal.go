package pagestore

import (
	"fmt"

	"github.com/replicore/wscache/internal/logger"
)

// fatalf reports a detected invariant violation and aborts. These are
// programmer errors, not runtime conditions; callers must not attempt to
// recover.
func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	panic(msg)
}
