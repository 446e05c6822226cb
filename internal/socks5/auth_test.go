package socks5

import (
	"bytes"
	"testing"
)

func TestNoAuthMethod(t *testing.T) {
	m := NoAuthMethod{}
	if m.MethodID() != MethodNoAuth {
		t.Errorf("MethodID() = %#x, want MethodNoAuth", m.MethodID())
	}
	if err := m.Negotiate(&bytes.Buffer{}); err != nil {
		t.Errorf("Negotiate() error = %v, want nil", err)
	}
}

func TestUserPasswordMethod_Success(t *testing.T) {
	store := NewStaticCredentials()
	store.Set("alice", "s3cret")

	var buf bytes.Buffer
	buf.Write([]byte{0x01, 5})
	buf.WriteString("alice")
	buf.Write([]byte{6})
	buf.WriteString("s3cret")

	m := UserPasswordMethod{Store: store}
	if err := m.Negotiate(&buf); err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
}

func TestUserPasswordMethod_WrongPassword(t *testing.T) {
	store := NewStaticCredentials()
	store.Set("alice", "s3cret")

	var buf bytes.Buffer
	buf.Write([]byte{0x01, 5})
	buf.WriteString("alice")
	buf.Write([]byte{3})
	buf.WriteString("bad")

	m := UserPasswordMethod{Store: store}
	err := m.Negotiate(&buf)
	if _, ok := err.(*AuthError); !ok {
		t.Fatalf("error = %v (%T), want *AuthError", err, err)
	}
	// A failure reply must still be sent.
	if !bytes.Equal(buf.Bytes(), []byte{0x01, 0x01}) {
		t.Errorf("reply = %v, want [1 1]", buf.Bytes())
	}
}

func TestSelectMethod_FirstOfferedWins(t *testing.T) {
	registered := map[byte]struct{}{MethodNoAuth: {}, MethodUserPass: {}}

	method, ok := selectMethod([]byte{MethodGSSAPI, MethodUserPass, MethodNoAuth}, registered)
	if !ok {
		t.Fatal("selectMethod() ok = false, want true")
	}
	if method != MethodUserPass {
		t.Errorf("method = %#x, want MethodUserPass (first registered in offered order)", method)
	}
}

func TestSelectMethod_NoneAcceptable(t *testing.T) {
	registered := map[byte]struct{}{MethodNoAuth: {}}

	method, ok := selectMethod([]byte{MethodGSSAPI}, registered)
	if ok {
		t.Fatal("selectMethod() ok = true, want false")
	}
	if method != MethodNoAcceptable {
		t.Errorf("method = %#x, want MethodNoAcceptable", method)
	}
}
