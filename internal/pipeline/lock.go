package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// ErrRunInProgress is returned when a run is requested while another run of
// the same pipeline still holds the lock.
var ErrRunInProgress = eris.New("pipeline: run already in progress")

// runLocks holds one flag per pipeline name. The lock is in-process: a
// session advisory lock taken through a connection pool can be released on
// a different connection than acquired it, so mutual exclusion lives here.
var runLocks sync.Map // pipeline name -> *atomic.Bool

// tryAcquire claims the run lock for the named pipeline. The returned
// release func must be called exactly once.
func tryAcquire(name string) (func(), error) {
	v, _ := runLocks.LoadOrStore(name, new(atomic.Bool))
	flag := v.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	return func() { flag.Store(false) }, nil
}
