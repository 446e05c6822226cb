package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panyam/socks5gate/internal/socks5"
)

func writeConfig(t *testing.T, yamlConfig string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MinimalNoAuth(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
`)

	file, plans, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("len(plans) = %d, want 1", len(plans))
	}
	cfg := plans[0].Config
	if cfg.ListenAddress != "127.0.0.1:1080" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if len(cfg.AuthMethods) != 1 || cfg.AuthMethods[0] != socks5.MethodNoAuth {
		t.Errorf("AuthMethods = %v, want [MethodNoAuth]", cfg.AuthMethods)
	}
	if cfg.HandshakeReadTimeout != 10*time.Second {
		t.Errorf("HandshakeReadTimeout = %v, want 10s default", cfg.HandshakeReadTimeout)
	}
	if cfg.DialTimeout != 30*time.Second {
		t.Errorf("DialTimeout = %v, want 30s default", cfg.DialTimeout)
	}
	if cfg.CredentialStore != nil {
		t.Error("CredentialStore should be nil when no listener requires userpass")
	}
	if file.Listeners[0].ListenAddress != cfg.ListenAddress {
		t.Error("File.Listeners should mirror the raw YAML entries")
	}
}

func TestLoad_UserPasswordRequiresUsers(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
    auth_methods: ["userpass"]
`)

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error: userpass configured with no users")
	}
}

func TestLoad_UserPasswordBuildsSharedStore(t *testing.T) {
	path := writeConfig(t, `
hashed_credentials: true
users:
  - username: alice
    password: s3cret
listeners:
  - listen_address: "127.0.0.1:1080"
    auth_methods: ["userpass"]
  - listen_address: "127.0.0.1:1081"
    auth_methods: ["noauth", "userpass"]
`)

	_, plans, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("len(plans) = %d, want 2", len(plans))
	}
	if plans[0].Config.CredentialStore == nil {
		t.Fatal("CredentialStore not set on listener requiring userpass")
	}
	if plans[0].Config.CredentialStore != plans[1].Config.CredentialStore {
		t.Error("listeners should share a single CredentialStore instance")
	}
	if !plans[0].Config.CredentialStore.Verify("alice", "s3cret") {
		t.Error("shared store does not verify the configured user")
	}
}

func TestLoad_DuplicateListenAddress(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
  - listen_address: "127.0.0.1:1080"
`)

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate listen_address")
	}
}

func TestLoad_InvalidListenAddress(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "not-a-valid-address"
`)

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid listen_address")
	}
}

func TestLoad_NoListeners(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error: at least one listener required")
	}
}

func TestLoad_OutboundBindIPAndEnsureInterface(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
    outbound_bind_ip: "10.233.233.2"
    ensure_interface: "eth0"
    relay_bandwidth_limit: 1048576
`)

	_, plans, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := plans[0].Config
	if cfg.OutboundBindIP == nil || cfg.OutboundBindIP.String() != "10.233.233.2" {
		t.Errorf("OutboundBindIP = %v, want 10.233.233.2", cfg.OutboundBindIP)
	}
	if plans[0].EnsureInterface != "eth0" {
		t.Errorf("EnsureInterface = %q, want eth0", plans[0].EnsureInterface)
	}
	if cfg.RelayBandwidthLimit != 1048576 {
		t.Errorf("RelayBandwidthLimit = %d, want 1048576", cfg.RelayBandwidthLimit)
	}
}

func TestLoad_SupportedCommands(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
    supported_commands: ["connect"]
`)

	_, plans, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cmds := plans[0].Config.SupportedCommands
	if _, ok := cmds[socks5.CmdConnect]; !ok {
		t.Error("CmdConnect missing from SupportedCommands")
	}
	if len(cmds) != 1 {
		t.Errorf("SupportedCommands = %v, want only CmdConnect", cmds)
	}
}

func TestLoad_UnknownCommand(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
    supported_commands: ["udpassociate"]
`)

	_, _, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want error for unsupported command name")
	}
}

func TestLoad_UnknownAuthMethod(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - listen_address: "127.0.0.1:1080"
    auth_methods: ["gssapi"]
`)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown auth method")
	}
}
