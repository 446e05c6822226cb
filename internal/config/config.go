// Package config loads and validates the YAML configuration file,
// translating it into the internal/socks5 types the Server actually
// runs against.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/panyam/socks5gate/internal/socks5"
)

// UserEntry is one credential in the top-level users list.
type UserEntry struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Hashed is parsed but not read by Load. All users share one
	// store, so the choice between HashedCredentials (bcrypt) and
	// StaticCredentials (plaintext, constant-time compare) is made once
	// by the file-level hashed_credentials setting, not per user.
	Hashed bool `yaml:"hashed"`
}

// ListenerEntry is one SOCKS5 listener.
type ListenerEntry struct {
	ListenAddress        string   `yaml:"listen_address"`
	AuthMethods          []string `yaml:"auth_methods"`
	HandshakeReadTimeout string   `yaml:"handshake_read_timeout"`
	DialTimeout          string   `yaml:"dial_timeout"`
	SupportedCommands    []string `yaml:"supported_commands"`
	OutboundBindIP       string   `yaml:"outbound_bind_ip"`
	EnsureInterface      string   `yaml:"ensure_interface"`
	RelayBandwidthLimit  int64    `yaml:"relay_bandwidth_limit"`
}

// File is the top-level YAML document.
type File struct {
	LogLevel             string          `yaml:"log_level"`
	LogFormat            string          `yaml:"log_format"`
	MetricsListenAddress string          `yaml:"metrics_listen_address"`
	HashedCredentials    bool            `yaml:"hashed_credentials"`
	Users                []UserEntry     `yaml:"users"`
	Listeners            []ListenerEntry `yaml:"listeners"`
}

// authMethodNames maps the config file's readable names to wire bytes.
var authMethodNames = map[string]byte{
	"noauth":   socks5.MethodNoAuth,
	"userpass": socks5.MethodUserPass,
}

// commandNames lists only the commands a listener may enable. BIND and
// UDP_ASSOCIATE have no dial/relay implementation here — the request
// handler always replies RepCommandNotSupported for them — so they are
// deliberately absent; there is no config knob that can turn them on.
var commandNames = map[string]byte{
	"connect": socks5.CmdConnect,
}

// ListenerPlan pairs a built socks5.Config with the startup action its
// outbound_bind_ip/ensure_interface settings require.
type ListenerPlan struct {
	Config          *socks5.Config
	EnsureInterface string // empty unless the listener asked for one
}

// Load reads path, validates it, and returns the parsed File (which
// carries the logging/metrics settings) and one ListenerPlan per
// listener. Every plan's Config points at the same shared
// CredentialStore, which is nil if no listener uses userpass.
func Load(path string) (*File, []ListenerPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}

	if len(f.Listeners) == 0 {
		return nil, nil, fmt.Errorf("config: at least one listener is required")
	}

	needsCredentials := false
	for _, l := range f.Listeners {
		methods, err := parseAuthMethods(l.AuthMethods)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range methods {
			if m == socks5.MethodUserPass {
				needsCredentials = true
			}
		}
	}

	var store socks5.CredentialStore
	if needsCredentials {
		if len(f.Users) == 0 {
			return nil, nil, fmt.Errorf("config: userpass auth configured but no users listed")
		}
		store, err = buildCredentialStore(f.HashedCredentials, f.Users)
		if err != nil {
			return nil, nil, err
		}
	}

	seenPorts := make(map[string]struct{}, len(f.Listeners))
	plans := make([]ListenerPlan, 0, len(f.Listeners))
	for i, l := range f.Listeners {
		cfg, err := buildListenerConfig(i, l, store)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seenPorts[cfg.ListenAddress]; dup {
			return nil, nil, fmt.Errorf("config: listeners[%d]: duplicate listen_address %q", i, cfg.ListenAddress)
		}
		seenPorts[cfg.ListenAddress] = struct{}{}
		plans = append(plans, ListenerPlan{Config: cfg, EnsureInterface: l.EnsureInterface})
	}

	return &f, plans, nil
}

func buildCredentialStore(hashed bool, users []UserEntry) (socks5.CredentialStore, error) {
	var store socks5.CredentialStore
	if hashed {
		store = socks5.NewHashedCredentials()
	} else {
		store = socks5.NewStaticCredentials()
	}
	for i, u := range users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("config: users[%d]: username/password must be non-empty", i)
		}
		if err := store.Set(u.Username, u.Password); err != nil {
			return nil, fmt.Errorf("config: users[%d]: %w", i, err)
		}
	}
	return store, nil
}

func buildListenerConfig(i int, l ListenerEntry, store socks5.CredentialStore) (*socks5.Config, error) {
	if l.ListenAddress == "" {
		return nil, fmt.Errorf("config: listeners[%d]: listen_address is required", i)
	}
	if _, _, err := net.SplitHostPort(l.ListenAddress); err != nil {
		return nil, fmt.Errorf("config: listeners[%d]: invalid listen_address %q: %w", i, l.ListenAddress, err)
	}

	methods, err := parseAuthMethods(l.AuthMethods)
	if err != nil {
		return nil, fmt.Errorf("config: listeners[%d]: %w", i, err)
	}

	handshakeTimeout, err := parseDurationDefault(l.HandshakeReadTimeout, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: listeners[%d]: handshake_read_timeout: %w", i, err)
	}
	dialTimeout, err := parseDurationDefault(l.DialTimeout, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: listeners[%d]: dial_timeout: %w", i, err)
	}

	commands, err := parseCommands(l.SupportedCommands)
	if err != nil {
		return nil, fmt.Errorf("config: listeners[%d]: %w", i, err)
	}

	var bindIP net.IP
	if l.OutboundBindIP != "" {
		bindIP = net.ParseIP(l.OutboundBindIP)
		if bindIP == nil {
			return nil, fmt.Errorf("config: listeners[%d]: invalid outbound_bind_ip %q", i, l.OutboundBindIP)
		}
	}

	if l.RelayBandwidthLimit < 0 {
		return nil, fmt.Errorf("config: listeners[%d]: relay_bandwidth_limit must be >= 0", i)
	}

	return &socks5.Config{
		ListenAddress:        l.ListenAddress,
		AuthMethods:          methods,
		CredentialStore:      store,
		HandshakeReadTimeout: handshakeTimeout,
		DialTimeout:          dialTimeout,
		SupportedCommands:    commands,
		OutboundBindIP:       bindIP,
		RelayBandwidthLimit:  l.RelayBandwidthLimit,
	}, nil
}

func parseAuthMethods(names []string) ([]byte, error) {
	if len(names) == 0 {
		return []byte{socks5.MethodNoAuth}, nil
	}
	methods := make([]byte, 0, len(names))
	for _, n := range names {
		m, ok := authMethodNames[n]
		if !ok {
			return nil, fmt.Errorf("unknown auth method %q", n)
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func parseCommands(names []string) (map[byte]struct{}, error) {
	if len(names) == 0 {
		return map[byte]struct{}{socks5.CmdConnect: {}}, nil
	}
	set := make(map[byte]struct{}, len(names))
	for _, n := range names {
		c, ok := commandNames[n]
		if !ok {
			return nil, fmt.Errorf("unknown command %q", n)
		}
		set[c] = struct{}{}
	}
	return set, nil
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
