// Package async holds small concurrency helpers. The reconciler builds
// its ticking jobs on top of RunEvery.
package async

import (
	"context"
	"reflect"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "async")

// RunEvery invokes f on a fixed period in a background goroutine until
// ctx is cancelled. The first invocation happens one period after the
// call, not immediately.
func RunEvery(ctx context.Context, period time.Duration, f func()) {
	jobName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.WithField("job", jobName).Trace("Running periodic job")
				f()
			case <-ctx.Done():
				log.WithField("job", jobName).Debug("Stopping periodic job")
				return
			}
		}
	}()
}
