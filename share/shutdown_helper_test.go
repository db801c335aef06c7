package chshare

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

type testShutdowner struct {
	ShutdownHelper
	calls  int32
	result error
	order  *[]string
	name   string
}

func newTestShutdowner(t *testing.T, name string, order *[]string) *testShutdowner {
	s := &testShutdowner{name: name, order: order}
	s.InitShutdownHelper(newTestLogger(t, io.Discard).Fork(name), s)
	return s
}

func (s *testShutdowner) HandleOnceShutdown(completionErr error) error {
	atomic.AddInt32(&s.calls, 1)
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	if s.result != nil {
		return s.result
	}
	return completionErr
}

func TestShutdownHelperRunsHandlerOnce(t *testing.T) {
	s := newTestShutdowner(t, "obj", nil)
	first := errors.New("first")
	s.StartShutdown(first)
	s.StartShutdown(errors.New("second"))
	if err := s.WaitShutdown(); err != first {
		t.Errorf("WaitShutdown() = %v, want the first advisory error", err)
	}
	if err := s.Close(); err != first {
		t.Errorf("Close() after shutdown = %v", err)
	}
	if n := atomic.LoadInt32(&s.calls); n != 1 {
		t.Errorf("HandleOnceShutdown called %d times", n)
	}
	if !s.IsStartedShutdown() || !s.IsDoneShutdown() {
		t.Error("shutdown flags not set")
	}
	select {
	case <-s.ShutdownStartedChan():
	default:
		t.Error("ShutdownStartedChan not closed")
	}
}

func TestShutdownHelperHandlerOverridesResult(t *testing.T) {
	s := newTestShutdowner(t, "obj", nil)
	s.result = errors.New("real")
	if err := s.Shutdown(nil); err != s.result {
		t.Errorf("Shutdown() = %v, want handler result", err)
	}
}

func TestShutdownHelperPause(t *testing.T) {
	s := newTestShutdowner(t, "obj", nil)
	if err := s.PauseShutdown(); err != nil {
		t.Fatalf("PauseShutdown() returned error: %s", err)
	}
	s.StartShutdown(nil)
	time.Sleep(20 * time.Millisecond)
	if s.IsStartedShutdown() {
		t.Fatal("shutdown started while paused")
	}
	s.ResumeShutdown()
	if err := s.WaitShutdown(); err != nil {
		t.Errorf("WaitShutdown() = %v", err)
	}
	if err := s.PauseShutdown(); err == nil {
		t.Error("PauseShutdown() after shutdown succeeded")
	}
}

func TestShutdownHelperOnContext(t *testing.T) {
	s := newTestShutdowner(t, "obj", nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.ShutdownOnContext(ctx)
	cancel()
	select {
	case <-s.ShutdownDoneChan():
	case <-time.After(5 * time.Second):
		t.Fatal("context cancel did not shut down")
	}
	if err := s.WaitShutdown(); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitShutdown() = %v, want context.Canceled", err)
	}
}

func TestShutdownHelperDoOnceActivate(t *testing.T) {
	s := newTestShutdowner(t, "obj", nil)
	calls := 0
	activate := func() error {
		calls++
		return nil
	}
	if err := s.DoOnceActivate(activate, true); err != nil {
		t.Fatalf("DoOnceActivate() returned error: %s", err)
	}
	if err := s.DoOnceActivate(activate, true); err != nil || calls != 1 {
		t.Errorf("second DoOnceActivate() = %v with %d calls", err, calls)
	}
	s.Close()

	failing := newTestShutdowner(t, "failing", nil)
	boom := errors.New("boom")
	if err := failing.DoOnceActivate(func() error { return boom }, true); err != boom {
		t.Errorf("DoOnceActivate() = %v, want boom", err)
	}
	if !failing.IsDoneShutdown() {
		t.Error("failed activation did not complete shutdown")
	}
	if err := failing.DoOnceActivate(activate, false); err == nil {
		t.Error("DoOnceActivate() after shutdown succeeded")
	}
}

func TestShutdownHelperChildren(t *testing.T) {
	var order []string
	parent := newTestShutdowner(t, "parent", &order)
	child := newTestShutdowner(t, "child", &order)
	parent.AddShutdownChild(child)

	done := make(chan struct{})
	parent.AddShutdownChildChan(done)
	parent.StartShutdown(nil)
	select {
	case <-parent.ShutdownDoneChan():
		t.Fatal("parent finished before its child chan was closed")
	case <-time.After(20 * time.Millisecond):
	}
	close(done)
	parent.WaitShutdown()
	if !child.IsDoneShutdown() {
		t.Error("child not shut down")
	}
	if len(order) != 2 || order[0] != "parent" || order[1] != "child" {
		t.Errorf("shutdown order %v, want [parent child]", order)
	}
}
