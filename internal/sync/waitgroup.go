package sync

import (
	"sync"
	"time"
)

// WaitGroupTimeout adds timeout feature for sync.WaitGroup.Wait().
// It returns true, when timed out.
func WaitGroupTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	wgClosed := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgClosed)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wgClosed:
		return false
	case <-timer.C:
		return true
	}
}
