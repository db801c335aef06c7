package wstnet

import "testing"

func TestNextState(t *testing.T) {
	cases := []struct {
		from    SessionState
		event   SessionEvent
		want    SessionState
		wantErr bool
	}{
		{StateProxying, EventLoopExited, StateDraining, false},
		{StateDraining, EventHandlesReleased, StateClosed, false},
		{StateProxying, EventHandlesReleased, StateProxying, true},
		{StateDraining, EventLoopExited, StateDraining, true},
		{StateClosed, EventLoopExited, StateClosed, true},
		{StateClosed, EventHandlesReleased, StateClosed, true},
	}
	for _, c := range cases {
		got, err := NextState(c.from, c.event)
		if got != c.want || (err != nil) != c.wantErr {
			t.Errorf("NextState(%s, %s) = (%s, %v), want (%s, err=%v)",
				c.from, c.event, got, err, c.want, c.wantErr)
		}
	}
}

func TestStateCell(t *testing.T) {
	var c stateCell
	if c.load() != StateProxying {
		t.Fatalf("zero stateCell is %s, want proxying", c.load())
	}
	if _, err := c.apply(EventHandlesReleased); err == nil {
		t.Error("stateCell allowed proxying -> closed")
	}
	if s, err := c.apply(EventLoopExited); err != nil || s != StateDraining {
		t.Errorf("apply(loop-exited) = (%s, %v)", s, err)
	}
	if s, err := c.apply(EventHandlesReleased); err != nil || s != StateClosed {
		t.Errorf("apply(handles-released) = (%s, %v)", s, err)
	}
	if c.load() != StateClosed {
		t.Errorf("final state %s, want closed", c.load())
	}
}
