package chshare

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sammck-go/wsvnc/pkg/wstnet"
)

var _ wstnet.Observer = (*Metrics)(nil)

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	m.DialFailed(&wstnet.DialError{Addr: "127.0.0.1:5900", Kind: wstnet.DialFailureTimeout, Err: errors.New("i/o timeout")})
	m.DialFailed(errors.New("custom dialer failure"))
	if n := testutil.ToFloat64(m.DialFailures.WithLabelValues("timeout")); n != 1 {
		t.Errorf("timeout dial failures = %v", n)
	}
	if n := testutil.ToFloat64(m.DialFailures.WithLabelValues("other")); n != 1 {
		t.Errorf("other dial failures = %v", n)
	}

	m.SessionOpened(wstnet.SessionStats{ID: 1})
	m.SessionOpened(wstnet.SessionStats{ID: 2})
	if n := testutil.ToFloat64(m.SessionsActive); n != 2 {
		t.Errorf("active sessions = %v, want 2", n)
	}
	m.SessionClosed(wstnet.SessionStats{ID: 1, BytesToClient: 100, BytesToBackend: 7, Duration: time.Second})
	m.SessionClosed(wstnet.SessionStats{
		ID:  2,
		Err: &wstnet.TransferError{Direction: wstnet.DirectionClientToBackend, Err: io.ErrClosedPipe},
	})
	if n := testutil.ToFloat64(m.SessionsActive); n != 0 {
		t.Errorf("active sessions = %v, want 0", n)
	}
	if n := testutil.ToFloat64(m.SessionsTotal); n != 2 {
		t.Errorf("total sessions = %v, want 2", n)
	}
	if n := testutil.ToFloat64(m.Bytes.WithLabelValues("backend->client")); n != 100 {
		t.Errorf("backend->client bytes = %v", n)
	}
	if n := testutil.ToFloat64(m.SessionFaults.WithLabelValues("client->backend")); n != 1 {
		t.Errorf("client->backend faults = %v", n)
	}
	if n := testutil.CollectAndCount(m.SessionDurations); n != 1 {
		t.Errorf("duration histogram series = %d", n)
	}
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.UpgradeRejected(nil, wstnet.ErrUpgradeRejected)
	if testutil.ToFloat64(a.UpgradeRejects) != 1 || testutil.ToFloat64(b.UpgradeRejects) != 0 {
		t.Error("metrics instances share collectors")
	}
}

func TestConnStats(t *testing.T) {
	var c ConnStats
	c.Open()
	if n := c.Open(); n != 2 {
		t.Errorf("Open() = %d, want total 2", n)
	}
	c.Close()
	if c.OpenCount() != 1 || c.String() != "[1/2]" {
		t.Errorf("stats %s", &c)
	}
}
