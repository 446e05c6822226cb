package socks5

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore validates (username, password) pairs for the
// UserPassword AuthMethod. Implementations must be safe for concurrent
// reads; the Server shares one instance across every Connection.
type CredentialStore interface {
	// Add registers username/password. Returns false without changing
	// anything if the user already exists and overrideExisting is false.
	Add(username, password string, overrideExisting bool) (bool, error)
	// Remove deletes username, if present.
	Remove(username string)
	// Verify reports whether password is correct for username.
	Verify(username, password string) bool
	// Set upserts username/password unconditionally.
	Set(username, password string) error
}

var (
	// errEmptyCredential is returned when a username or password is
	// empty or contains a NUL byte.
	errEmptyCredential = errors.New("username/password must be 1-255 bytes and NUL-free")
)

func validCredentialString(s string) bool {
	return len(s) > 0 && len(s) <= maxFieldLen && !strings.ContainsRune(s, 0)
}

// dummyHash is compared against on unknown usernames so that a lookup
// miss and a hash mismatch take the same amount of time.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// dummyPassword plays the equivalent role for StaticCredentials: an
// unknown username still runs one ConstantTimeCompare against a
// fixed-length value instead of short-circuiting.
const dummyPassword = "0000000000000000"

// HashedCredentials is the recommended CredentialStore: passwords are
// never held in memory, only their bcrypt hash.
type HashedCredentials struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewHashedCredentials returns an empty HashedCredentials store.
func NewHashedCredentials() *HashedCredentials {
	return &HashedCredentials{hashes: make(map[string]string)}
}

func (h *HashedCredentials) Add(username, password string, overrideExisting bool) (bool, error) {
	if !validCredentialString(username) || !validCredentialString(password) {
		return false, errEmptyCredential
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.hashes[username]; exists && !overrideExisting {
		return false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	h.hashes[username] = string(hash)
	return true, nil
}

func (h *HashedCredentials) Set(username, password string) error {
	if !validCredentialString(username) || !validCredentialString(password) {
		return errEmptyCredential
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.hashes[username] = string(hash)
	h.mu.Unlock()
	return nil
}

func (h *HashedCredentials) Remove(username string) {
	h.mu.Lock()
	delete(h.hashes, username)
	h.mu.Unlock()
}

func (h *HashedCredentials) Verify(username, password string) bool {
	h.mu.RLock()
	hash, ok := h.hashes[username]
	h.mu.RUnlock()

	if !ok {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// StaticCredentials holds plaintext passwords in memory, compared with
// crypto/subtle. Simpler than HashedCredentials but weaker if the
// process memory or config file is exposed — prefer HashedCredentials
// for anything internet-facing.
type StaticCredentials struct {
	mu        sync.RWMutex
	passwords map[string]string
}

// NewStaticCredentials returns an empty StaticCredentials store.
func NewStaticCredentials() *StaticCredentials {
	return &StaticCredentials{passwords: make(map[string]string)}
}

func (s *StaticCredentials) Add(username, password string, overrideExisting bool) (bool, error) {
	if !validCredentialString(username) || !validCredentialString(password) {
		return false, errEmptyCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.passwords[username]; exists && !overrideExisting {
		return false, nil
	}
	s.passwords[username] = password
	return true, nil
}

func (s *StaticCredentials) Set(username, password string) error {
	if !validCredentialString(username) || !validCredentialString(password) {
		return errEmptyCredential
	}
	s.mu.Lock()
	s.passwords[username] = password
	s.mu.Unlock()
	return nil
}

func (s *StaticCredentials) Remove(username string) {
	s.mu.Lock()
	delete(s.passwords, username)
	s.mu.Unlock()
}

func (s *StaticCredentials) Verify(username, password string) bool {
	s.mu.RLock()
	stored, ok := s.passwords[username]
	s.mu.RUnlock()

	if !ok {
		subtle.ConstantTimeCompare([]byte(dummyPassword), []byte(password))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
