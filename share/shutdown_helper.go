package chshare

import (
	"context"
	"sync"
)

// OnceActivateHandler is called exactly once, with shutdown paused, to activate an
// object managed by a ShutdownHelper. If it returns an error the object is not
// activated and shutdown starts immediately with that error.
type OnceActivateHandler func() error

// OnceShutdownHandler is implemented by the object managed by a ShutdownHelper
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, in its own goroutine, and never while
	// shutdown is paused. It takes completionErr as an advisory completion value,
	// actually shuts down, then returns the real completion value.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is implemented by objects that can be shut down asynchronously
type AsyncShutdowner interface {
	// StartShutdown schedules shutdown. completionErr is an advisory completion
	// status. Calls after the first have no effect.
	StartShutdown(completionErr error)

	// ShutdownDoneChan returns a chan that is closed after shutdown is complete
	ShutdownDoneChan() <-chan struct{}

	// WaitShutdown blocks until shutdown is complete and returns the final status
	WaitShutdown() error
}

// ShutdownHelper is embedded by long-lived objects (servers, listeners, watchers)
// to give them a once-only asynchronous shutdown with child tracking:
//
//   StartShutdown -> (wait for pause count 0) -> HandleOnceShutdown ->
//   shut down registered children -> wait for children -> done
type ShutdownHelper struct {
	Logger

	// Lock may also be used by the embedding object for its own fields
	Lock sync.Mutex

	handler OnceShutdownHandler

	pauseCount  int
	isActivated bool
	isScheduled bool
	isStarted   bool
	isDone      bool
	shutdownErr error

	startedChan     chan struct{}
	handlerDoneChan chan struct{}
	doneChan        chan struct{}

	// children still to be waited for before shutdown is complete
	wg sync.WaitGroup
}

// InitShutdownHelper initializes a ShutdownHelper in place
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, handler OnceShutdownHandler) {
	h.Logger = logger
	h.handler = handler
	h.startedChan = make(chan struct{})
	h.handlerDoneChan = make(chan struct{})
	h.doneChan = make(chan struct{})
}

// beginShutdown runs after isStarted has been set and shutdownErr holds the advisory
// completion error
func (h *ShutdownHelper) beginShutdown() {
	h.TLogf("->shutdownStarted")
	close(h.startedChan)
	go func() {
		err := h.handler.HandleOnceShutdown(h.shutdownErr)
		h.Lock.Lock()
		h.shutdownErr = err
		h.Lock.Unlock()
		close(h.handlerDoneChan)
		h.wg.Wait()
		h.Lock.Lock()
		h.isDone = true
		h.Lock.Unlock()
		h.TLogf("->shutdownDone")
		close(h.doneChan)
	}()
}

// PauseShutdown keeps a scheduled shutdown from starting until the matching
// ResumeShutdown. It fails if shutdown has already started.
func (h *ShutdownHelper) PauseShutdown() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if h.isStarted {
		return h.Errorf("Shutdown already started; cannot pause")
	}
	h.pauseCount++
	return nil
}

// ResumeShutdown undoes one PauseShutdown, starting a scheduled shutdown when the
// pause count reaches zero
func (h *ShutdownHelper) ResumeShutdown() {
	h.Lock.Lock()
	if h.pauseCount < 1 {
		h.Lock.Unlock()
		h.Panicf("ResumeShutdown before PauseShutdown")
	}
	h.pauseCount--
	startNow := h.pauseCount == 0 && h.isScheduled && !h.isStarted
	if startNow {
		h.isStarted = true
	}
	h.Lock.Unlock()

	if startNow {
		h.beginShutdown()
	}
}

// DoOnceActivate activates the object by running onceActivateHandler with shutdown
// paused. It returns nil at once if the object is already active, and an error if
// shutdown began first or the handler failed; in the latter case shutdown is
// started with the handler's error. If waitOnFail is true a failed activation
// waits for shutdown to complete before returning.
func (h *ShutdownHelper) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	h.Lock.Lock()
	if h.isActivated {
		h.Lock.Unlock()
		return nil
	}
	if h.isStarted {
		h.Lock.Unlock()
		var err error
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("Shutdown already started; cannot activate")
		}
		return err
	}
	h.pauseCount++
	h.Lock.Unlock()

	err := onceActivateHandler()
	if err == nil {
		h.Lock.Lock()
		h.isActivated = true
		h.Lock.Unlock()
	} else {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// ShutdownOnContext starts shutdown with ctx's error when ctx is done. It does not
// block.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.startedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown returns true once shutdown has begun
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isStarted
}

// IsDoneShutdown returns true once shutdown is complete
func (h *ShutdownHelper) IsDoneShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isDone
}

// ShutdownStartedChan returns a channel that is closed as soon as shutdown begins
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.startedChan
}

// ShutdownDoneChan returns a channel that is closed after shutdown is complete
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// WaitShutdown waits for shutdown to complete and returns the final status. It does
// not start shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.shutdownErr
}

// Shutdown starts shutdown if it has not started, waits for it to complete, and
// returns the final status
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// StartShutdown schedules asynchronous shutdown. Only the first call has an effect;
// if shutdown is paused it begins when the last pause is resumed.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.Lock.Lock()
	startNow := false
	if !h.isScheduled {
		h.shutdownErr = completionErr
		h.isScheduled = true
		startNow = h.pauseCount == 0
		h.isStarted = startNow
	}
	h.Lock.Unlock()

	if startNow {
		h.beginShutdown()
	}
}

// Close shuts down with a nil advisory status and returns the final status
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChildChan delays shutdown completion until childDoneChan is closed.
// Closing it is the caller's job.
func (h *ShutdownHelper) AddShutdownChildChan(childDoneChan <-chan struct{}) {
	h.wg.Add(1)
	go func() {
		<-childDoneChan
		h.wg.Done()
	}()
}

// AddShutdownChild registers a child that is shut down, with the status returned by
// HandleOnceShutdown, once HandleOnceShutdown returns. Shutdown is not complete
// until the child's is.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		select {
		case <-child.ShutdownDoneChan():
		case <-h.handlerDoneChan:
			h.Lock.Lock()
			err := h.shutdownErr
			h.Lock.Unlock()
			child.StartShutdown(err)
			child.WaitShutdown()
		}
		h.wg.Done()
	}()
}
