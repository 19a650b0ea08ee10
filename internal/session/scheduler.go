package session

import (
	"sync"
	"time"
)

// DefaultTickRate is the sampling cadence in ticks per second.
const DefaultTickRate = 60

// Scheduler runs fn repeatedly at a fixed interval until the returned cancel
// function is called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler drives a time.Ticker on its own goroutine and posts every
// tick to the dispatcher, so fn always runs on the loop.
type TickerScheduler struct {
	Dispatcher Dispatcher
}

// Every implements Scheduler. Cancel stops the ticker goroutine before
// returning; ticks already posted to the dispatcher may still run.
func (s TickerScheduler) Every(interval time.Duration, fn func()) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Dispatcher.Post(fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}
}

// TickInterval converts a tick rate into a ticker interval.
func TickInterval(rate int) time.Duration {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return time.Second / time.Duration(rate)
}
