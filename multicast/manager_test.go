package multicast

import (
	"context"
	"errors"
	"testing"
)

type fakeTransport struct {
	locator Locator
	closed  bool
}

func (f *fakeTransport) Locator() Locator   { return f.locator }
func (f *fakeTransport) Send(Message) error { return nil }
func (f *fakeTransport) Close() error       { f.closed = true; return nil }

type fakeLinkManager struct {
	closed bool
	opened []Endpoint
}

func (f *fakeLinkManager) NewLink(ctx context.Context, endpoint Endpoint) (Transport, error) {
	f.opened = append(f.opened, endpoint)
	return &fakeTransport{locator: endpoint.Locator()}, nil
}

func (f *fakeLinkManager) Close() error { f.closed = true; return nil }

func testManager() (*Manager, *fakeLinkManager) {
	lm := &fakeLinkManager{}
	cfg := ManagerConfig{Protocols: []string{"udp"}}
	m := NewManager(cfg, func(protocol string) (LinkManager, error) { return lm, nil })
	return m, lm
}

func TestOpenTransportMulticastRejectsUnsupportedProtocol(t *testing.T) {
	m, _ := testManager()
	_, err := m.OpenTransportMulticast(context.Background(), Endpoint{Protocol: "tcp", Address: "239.0.0.1:7447"})
	if err == nil {
		t.Fatal("expected an error for an unconfigured protocol")
	}
}

func TestOpenTransportMulticastRejectsUnicastAddress(t *testing.T) {
	m, _ := testManager()
	_, err := m.OpenTransportMulticast(context.Background(), Endpoint{Protocol: "udp", Address: "10.0.0.1:7447"})
	if err == nil {
		t.Fatal("expected an error for a unicast endpoint")
	}
}

func TestOpenTransportMulticastIsIdempotent(t *testing.T) {
	m, lm := testManager()
	endpoint := Endpoint{Protocol: "udp", Address: "239.0.0.1:7447"}
	t1, err := m.OpenTransportMulticast(context.Background(), endpoint)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := m.OpenTransportMulticast(context.Background(), endpoint)
	if err != nil {
		t.Fatal(err)
	}
	if t1 != t2 {
		t.Fatal("expected the second open to reuse the existing transport")
	}
	if len(lm.opened) != 1 {
		t.Fatalf("expected exactly one NewLink call, got %d", len(lm.opened))
	}
}

func TestOpenTransportMulticastReusesLinkManagerAcrossLocators(t *testing.T) {
	calls := 0
	cfg := ManagerConfig{Protocols: []string{"udp"}}
	m := NewManager(cfg, func(protocol string) (LinkManager, error) {
		calls++
		return &fakeLinkManager{}, nil
	})
	if _, err := m.OpenTransportMulticast(context.Background(), Endpoint{Protocol: "udp", Address: "239.0.0.1:7447"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenTransportMulticast(context.Background(), Endpoint{Protocol: "udp", Address: "239.0.0.2:7447"}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected the link manager factory to be called once, got %d", calls)
	}
}

func TestDelLinkManagerMulticastNotFound(t *testing.T) {
	m, _ := testManager()
	if err := m.DelLinkManagerMulticast("udp"); !errors.Is(err, ErrLinkManagerNotFound) {
		t.Fatalf("expected ErrLinkManagerNotFound, got %v", err)
	}
}

func TestDelLinkManagerMulticastRemovesRegistered(t *testing.T) {
	m, lm := testManager()
	if _, err := m.OpenTransportMulticast(context.Background(), Endpoint{Protocol: "udp", Address: "239.0.0.1:7447"}); err != nil {
		t.Fatal(err)
	}
	if err := m.DelLinkManagerMulticast("udp"); err != nil {
		t.Fatal(err)
	}
	if !lm.closed {
		t.Fatal("expected the link manager to be closed on removal")
	}
	if err := m.DelLinkManagerMulticast("udp"); !errors.Is(err, ErrLinkManagerNotFound) {
		t.Fatalf("expected ErrLinkManagerNotFound on second delete, got %v", err)
	}
}

func TestCloseMulticastDrainsBothRegistries(t *testing.T) {
	m, lm := testManager()
	tr, err := m.OpenTransportMulticast(context.Background(), Endpoint{Protocol: "udp", Address: "239.0.0.1:7447"})
	if err != nil {
		t.Fatal(err)
	}
	m.CloseMulticast(context.Background())
	if !lm.closed {
		t.Fatal("expected link managers to be closed")
	}
	if !tr.(*fakeTransport).closed {
		t.Fatal("expected transports to be closed")
	}
	if len(m.protocols) != 0 || len(m.transports) != 0 {
		t.Fatal("expected both registries empty after close")
	}
}

func TestCloseTransportClosesLinkManagerWhenLastLocator(t *testing.T) {
	m, lm := testManager()
	endpoint := Endpoint{Protocol: "udp", Address: "239.0.0.1:7447"}
	tr, err := m.OpenTransportMulticast(context.Background(), endpoint)
	if err != nil {
		t.Fatal(err)
	}
	m.CloseTransport(endpoint.Locator())
	if !tr.(*fakeTransport).closed {
		t.Fatal("expected the transport to be closed")
	}
	if !lm.closed {
		t.Fatal("expected the link manager to be closed once its last transport is gone")
	}
	if _, ok := m.transports[endpoint.Locator()]; ok {
		t.Fatal("expected the transport registry entry to be removed")
	}
	if _, ok := m.protocols["udp"]; ok {
		t.Fatal("expected the link manager registry entry to be removed")
	}
}

func TestCloseTransportKeepsLinkManagerForOtherLocators(t *testing.T) {
	m, lm := testManager()
	first := Endpoint{Protocol: "udp", Address: "239.0.0.1:7447"}
	second := Endpoint{Protocol: "udp", Address: "239.0.0.2:7447"}
	if _, err := m.OpenTransportMulticast(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	tr2, err := m.OpenTransportMulticast(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	m.CloseTransport(first.Locator())
	if lm.closed {
		t.Fatal("expected the link manager to stay open while another locator still uses it")
	}
	if tr2.(*fakeTransport).closed {
		t.Fatal("expected the other locator's transport to be untouched")
	}
}

func TestCloseTransportIsNoOpForUnknownLocator(t *testing.T) {
	m, _ := testManager()
	m.CloseTransport(Locator("udp/239.0.0.9:7447"))
}

func TestIsMulticastAddress(t *testing.T) {
	cases := map[string]bool{
		"239.0.0.1:7447": true,
		"10.0.0.1:7447":  false,
		"ff02::1":        true,
		"not-an-ip":      false,
	}
	for addr, want := range cases {
		if got := isMulticastAddress(addr); got != want {
			t.Fatalf("isMulticastAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}
