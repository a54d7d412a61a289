package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id          int
	multiplexed bool
	unhealthy   atomic.Bool
	closed      atomic.Bool
}

func (c *fakeConn) Close() error      { c.closed.Store(true); return nil }
func (c *fakeConn) Healthy() bool     { return !c.closed.Load() && !c.unhealthy.Load() }
func (c *fakeConn) Multiplexed() bool { return c.multiplexed }

var testKey = Key{Scheme: "https", Addr: "example.com:443", Profile: "chrome_133/macos"}

func waitClosed(t *testing.T, c *fakeConn) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !c.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("conn %d was not closed", c.id)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMaxIdlePerHost(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 2}, nil)
	defer m.Close()

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{id: i}
	}
	for _, c := range conns {
		m.Release(testKey, c)
	}

	if got := m.Stats()[testKey].Conns; got != 2 {
		t.Errorf("expected 2 idle conns, got %d", got)
	}
	for i, c := range conns {
		if want := i >= 2; c.closed.Load() != want {
			t.Errorf("conn %d: expected closed=%v, got %v", i, want, c.closed.Load())
		}
	}
}

func TestAcquireIsExclusiveForHTTP1(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 4}, nil)
	defer m.Close()

	c := &fakeConn{id: 1}
	m.Release(testKey, c)

	got, err := m.Acquire(testKey)
	if err != nil || got != c {
		t.Fatalf("expected pooled conn, got %v %v", got, err)
	}
	if again, _ := m.Acquire(testKey); again != nil {
		t.Errorf("HTTP/1.1 conn handed out twice")
	}
	m.Release(testKey, c)
	if again, _ := m.Acquire(testKey); again != c {
		t.Errorf("expected conn back after release")
	}
}

func TestAcquireSharesMultiplexed(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 1}, nil)
	defer m.Close()

	c := &fakeConn{id: 1, multiplexed: true}
	m.Release(testKey, c)

	for i := 0; i < 3; i++ {
		got, _ := m.Acquire(testKey)
		if got != c {
			t.Fatalf("acquire %d: expected shared conn", i)
		}
	}
	// releasing again must not duplicate it
	m.Release(testKey, c)
	m.Release(testKey, c)
	if got := m.Stats()[testKey]; got.Conns != 1 || got.Uses != 3 {
		t.Errorf("expected 1 conn with 3 uses, got %+v", got)
	}
}

func TestProfilesDoNotShare(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 4}, nil)
	defer m.Close()

	m.Release(testKey, &fakeConn{id: 1})
	other := testKey
	other.Profile = "firefox_135/windows"
	if got, _ := m.Acquire(other); got != nil {
		t.Errorf("connection leaked across profiles")
	}
	viaProxy := testKey
	viaProxy.Route = "http://proxy:8080"
	if got, _ := m.Acquire(viaProxy); got != nil {
		t.Errorf("connection leaked across routes")
	}
}

func TestUnhealthyDropped(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 4}, nil)
	defer m.Close()

	c := &fakeConn{id: 1}
	m.Release(testKey, c)
	c.unhealthy.Store(true)

	if got, _ := m.Acquire(testKey); got != nil {
		t.Errorf("unhealthy conn handed out")
	}
	waitClosed(t, c)

	d := &fakeConn{id: 2}
	d.unhealthy.Store(true)
	m.Release(testKey, d)
	if !d.closed.Load() {
		t.Errorf("unhealthy conn should be closed on release")
	}
}

func TestIdleTimeoutEviction(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 4, IdleTimeout: 40 * time.Millisecond, CleanupInterval: 10 * time.Millisecond}, nil)
	defer m.Close()

	c := &fakeConn{id: 1}
	m.Release(testKey, c)
	waitClosed(t, c)

	if _, ok := m.Stats()[testKey]; ok {
		t.Errorf("empty host pool should be dropped")
	}
}

func TestConcurrentReleaseRespectsBound(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 3}, nil)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _ := m.Acquire(testKey)
			if c == nil {
				c = &fakeConn{id: i}
			}
			m.Release(testKey, c)
		}(i)
	}
	wg.Wait()
	if got := m.Stats()[testKey].Conns; got > 3 {
		t.Errorf("expected at most 3 idle conns, got %d", got)
	}
}

func TestClose(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	c := &fakeConn{id: 1}
	m.Release(testKey, c)
	m.Close()

	if !c.closed.Load() {
		t.Error("Close should close pooled conns")
	}
	if _, err := m.Acquire(testKey); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	late := &fakeConn{id: 2}
	m.Release(testKey, late)
	if !late.closed.Load() {
		t.Error("release after Close should close the conn")
	}
	m.Close()
}

func TestKeyString(t *testing.T) {
	k := Key{Scheme: "https", Addr: "[::1]:443", Profile: "chrome_133/linux", Route: "socks5://p:1080"}
	if k.Host() != "::1" {
		t.Errorf("Host: expected ::1, got %s", k.Host())
	}
	if k.String() != "https://[::1]:443 [chrome_133/linux] via socks5://p:1080" {
		t.Errorf("unexpected String: %s", k.String())
	}
}

func TestReleaseKeepsAgeAndUses(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 2, MaxConnAge: time.Hour}, nil)
	defer m.Close()

	start := time.Now()
	m.now = func() time.Time { return start }
	c := &fakeConn{id: 1}
	m.Release(testKey, c)
	for i := 0; i < 2; i++ {
		got, _ := m.Acquire(testKey)
		m.Release(testKey, got)
	}
	if got := m.Stats()[testKey].Uses; got != 2 {
		t.Errorf("expected 2 uses, got %d", got)
	}

	m.now = func() time.Time { return start.Add(2 * time.Hour) }
	got, _ := m.Acquire(testKey)
	if got != nil {
		t.Error("conn past MaxConnAge handed out")
	}
	waitClosed(t, c)
}

func TestForgetCheckedOut(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 2}, nil)
	defer m.Close()

	c := &fakeConn{id: 1}
	m.Release(testKey, c)
	got, _ := m.Acquire(testKey)
	m.Forget(testKey, got)
	m.CloseIdle()
	if _, ok := m.Stats()[testKey]; ok {
		t.Error("forgotten conn should leave no host pool behind")
	}
	if c.closed.Load() {
		t.Error("Forget must not close the conn")
	}
}

func TestMaxIdlePerHostAcrossProfiles(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 2}, nil)
	defer m.Close()

	other := testKey
	other.Profile = "firefox_135/linux"
	elsewhere := Key{Scheme: "https", Addr: "example.org:443", Profile: testKey.Profile}

	old := []*fakeConn{{id: 1}, {id: 2}}
	for _, c := range old {
		m.Release(testKey, c)
	}
	far := &fakeConn{id: 3}
	m.Release(elsewhere, far)

	fresh := &fakeConn{id: 4}
	m.Release(other, fresh)

	waitClosed(t, old[0])
	if old[1].closed.Load() {
		t.Error("most recent conn of the old profile should stay pooled")
	}
	if fresh.closed.Load() || far.closed.Load() {
		t.Error("only the old profile's conns should be evicted")
	}
	stats := m.Stats()
	if got := stats[testKey].Conns + stats[other].Conns; got != 2 {
		t.Errorf("expected 2 idle conns for %s, got %d", testKey.Addr, got)
	}
	if got := stats[elsewhere].Conns; got != 1 {
		t.Errorf("expected 1 idle conn for %s, got %d", elsewhere.Addr, got)
	}
}

func TestMaxIdlePerHostKeepsMultiplexed(t *testing.T) {
	m := NewManager(Config{MaxIdlePerHost: 1}, nil)
	defer m.Close()

	shared := &fakeConn{id: 1, multiplexed: true}
	m.Release(testKey, shared)

	other := testKey
	other.Route = "socks5://proxy:1080"
	m.Release(other, &fakeConn{id: 2})

	time.Sleep(10 * time.Millisecond)
	if shared.closed.Load() {
		t.Error("multiplexed conn should be left to the idle timeout")
	}
}
