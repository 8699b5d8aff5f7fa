// Package sim drives the simulation: fleet seeding, synthetic order
// generation, and the periodic loops feeding the broadcast fabric.
package sim

import "time"

// runEvery executes fn at a fixed period until stopCh is closed. The timer
// resets after each run, so a slow tick delays the next one instead of
// stacking ticks.
func runEvery(stopCh <-chan struct{}, period time.Duration, fn func()) {
	if period <= 0 {
		period = time.Second
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		timer.Reset(period)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
