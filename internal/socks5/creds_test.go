package socks5

import "testing"

func TestStaticCredentials(t *testing.T) {
	s := NewStaticCredentials()
	if ok, err := s.Add("alice", "s3cret", false); !ok || err != nil {
		t.Fatalf("Add() = (%v, %v), want (true, nil)", ok, err)
	}
	if !s.Verify("alice", "s3cret") {
		t.Error("Verify() = false for correct password, want true")
	}
	if s.Verify("alice", "wrong") {
		t.Error("Verify() = true for wrong password, want false")
	}
	if s.Verify("bob", "anything") {
		t.Error("Verify() = true for unknown user, want false")
	}
}

func TestStaticCredentials_AddNoOverride(t *testing.T) {
	s := NewStaticCredentials()
	s.Add("alice", "first", false)
	ok, err := s.Add("alice", "second", false)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if ok {
		t.Fatal("Add() = true, want false (existing user, overrideExisting=false)")
	}
	if !s.Verify("alice", "first") {
		t.Error("password was overwritten despite overrideExisting=false")
	}
}

func TestStaticCredentials_RejectsEmpty(t *testing.T) {
	s := NewStaticCredentials()
	if _, err := s.Add("", "pw", true); err == nil {
		t.Error("Add() with empty username should error")
	}
	if _, err := s.Add("user", "", true); err == nil {
		t.Error("Add() with empty password should error")
	}
}

func TestStaticCredentials_RejectsNUL(t *testing.T) {
	s := NewStaticCredentials()
	if _, err := s.Add("user\x00name", "pw", true); err == nil {
		t.Error("Add() with NUL in username should error")
	}
}

func TestStaticCredentials_Remove(t *testing.T) {
	s := NewStaticCredentials()
	s.Set("alice", "s3cret")
	s.Remove("alice")
	if s.Verify("alice", "s3cret") {
		t.Error("Verify() succeeded after Remove()")
	}
}

func TestHashedCredentials(t *testing.T) {
	h := NewHashedCredentials()
	if _, err := h.Add("alice", "s3cret", false); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !h.Verify("alice", "s3cret") {
		t.Error("Verify() = false for correct password, want true")
	}
	if h.Verify("alice", "wrong") {
		t.Error("Verify() = true for wrong password, want false")
	}
	if h.Verify("bob", "anything") {
		t.Error("Verify() = true for unknown user, want false")
	}
}

func TestHashedCredentials_Set(t *testing.T) {
	h := NewHashedCredentials()
	if err := h.Set("alice", "first"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := h.Set("alice", "second"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if h.Verify("alice", "first") {
		t.Error("old password still valid after Set() upsert")
	}
	if !h.Verify("alice", "second") {
		t.Error("new password not valid after Set() upsert")
	}
}
