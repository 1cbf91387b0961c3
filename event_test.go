package zreplog

import "testing"

func key(s string) *string { return &s }

func TestNewEventFingerprintDeterministic(t *testing.T) {
	ts := Timestamp{Time: 100, NodeID: [16]byte{1}}
	e1 := NewEvent(key("a/b"), ts, Put)
	e2 := NewEvent(key("a/b"), ts, Put)
	if e1.Fingerprint() != e2.Fingerprint() {
		t.Fatal("fingerprint must be a pure function of key+timestamp")
	}
}

func TestNewEventFingerprintIgnoresAction(t *testing.T) {
	ts := Timestamp{Time: 100, NodeID: [16]byte{1}}
	put := NewEvent(key("a/b"), ts, Put)
	del := NewEvent(key("a/b"), ts, Delete)
	if put.Fingerprint() != del.Fingerprint() {
		t.Fatal("fingerprint is defined over key+timestamp only")
	}
}

func TestNewEventFingerprintDiffersOnKey(t *testing.T) {
	ts := Timestamp{Time: 100, NodeID: [16]byte{1}}
	a := NewEvent(key("a/b"), ts, Put)
	b := NewEvent(key("c/d"), ts, Put)
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected distinct fingerprints for distinct keys")
	}
}

func TestNewEventNilKey(t *testing.T) {
	ts := Timestamp{Time: 1}
	e := NewEvent(nil, ts, Put)
	if e.KeyExpr != nil {
		t.Fatal("expected nil key to round-trip as nil")
	}
}

func TestActionString(t *testing.T) {
	if Put.String() != "Put" {
		t.Fatal(Put.String())
	}
	if Delete.String() != "Delete" {
		t.Fatal(Delete.String())
	}
}

func TestKeyExprEqual(t *testing.T) {
	a := key("x")
	b := key("x")
	if !keyExprEqual(a, b) {
		t.Fatal("equal strings through different pointers should compare equal")
	}
	if keyExprEqual(a, nil) {
		t.Fatal("non-nil should not equal nil")
	}
	if !keyExprEqual(nil, nil) {
		t.Fatal("nil should equal nil")
	}
}
