package common

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
)

// TimeoutHandler callback invoked on each tick
type TimeoutHandler func() error

// IntervalTimer runs a handler at a fixed period on a dedicated goroutine.
// The loop hangs off the caller's context tree, so cancelling the root
// context stops every timer spawned from it; Stop cancels just this one.
type IntervalTimer interface {
	// Start launch the tick loop. With oneShot the handler runs once and
	// the loop exits on its own.
	Start(interval time.Duration, handler TimeoutHandler, oneShot bool) error
	// Stop end the tick loop. Safe to call more than once.
	Stop() error
}

// intervalTimerImpl implements IntervalTimer
type intervalTimerImpl struct {
	Component
	rootContext context.Context
	loopCancel  context.CancelFunc
	wg          *sync.WaitGroup
}

// GetIntervalTimerInstance define a new interval timer
func GetIntervalTimerInstance(
	name string, rootCtxt context.Context, wg *sync.WaitGroup,
) (IntervalTimer, error) {
	logTags := log.Fields{
		"module": "common", "component": "interval-timer", "instance": name,
	}
	return &intervalTimerImpl{
		Component:   Component{LogTags: logTags},
		rootContext: rootCtxt,
		wg:          wg,
	}, nil
}

// Start launch the tick loop
func (t *intervalTimerImpl) Start(
	interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	log.WithFields(t.LogTags).Infof("Ticking every %s", interval)
	ctxt, cancel := context.WithCancel(t.rootContext)
	t.loopCancel = cancel
	t.wg.Add(1)
	go t.run(ctxt, interval, handler, oneShot)
	return nil
}

// run the tick loop until cancellation, or after one tick when oneShot
func (t *intervalTimerImpl) run(
	ctxt context.Context, interval time.Duration, handler TimeoutHandler, oneShot bool,
) {
	defer t.wg.Done()
	defer log.WithFields(t.LogTags).Info("Tick loop exiting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctxt.Done():
			return
		case <-ticker.C:
			if err := handler(); err != nil {
				log.WithError(err).WithFields(t.LogTags).Error("Tick handler failed")
			}
			if oneShot {
				return
			}
		}
	}
}

// Stop end the tick loop
func (t *intervalTimerImpl) Stop() error {
	if t.loopCancel != nil {
		log.WithFields(t.LogTags).Info("Stopping tick loop")
		t.loopCancel()
	}
	return nil
}
