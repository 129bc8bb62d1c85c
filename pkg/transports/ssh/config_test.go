package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/onepush/onepush/pkg/host"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("example.com", "deploy")

	if config.Host != "example.com" {
		t.Errorf("expected host 'example.com', got '%s'", config.Host)
	}
	if config.User != "deploy" {
		t.Errorf("expected user 'deploy', got '%s'", config.User)
	}
	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}
	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected auth method 'key', got '%s'", config.AuthMethod)
	}
	if !config.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", config.ConnectionTimeout)
	}
}

func TestConfigFor(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	config := ConfigFor(host.Address{User: "deploy", Hostname: "203.0.113.10", Port: 2222}, []string{"/keys/id"})
	if config.Port != 2222 {
		t.Errorf("expected port 2222, got %d", config.Port)
	}
	if config.User != "deploy" {
		t.Errorf("expected user 'deploy', got '%s'", config.User)
	}
	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth with identities, got '%s'", config.AuthMethod)
	}
	if config.Address() != "203.0.113.10:2222" {
		t.Errorf("unexpected address %s", config.Address())
	}

	config = ConfigFor(host.Address{User: "root", Hostname: "203.0.113.10"}, nil)
	if config.Port != 22 {
		t.Errorf("expected default port 22, got %d", config.Port)
	}

	t.Setenv("SSH_AUTH_SOCK", "/tmp/agent.sock")
	config = ConfigFor(host.Address{User: "root", Hostname: "203.0.113.10"}, nil)
	if config.AuthMethod != AuthMethodAgent {
		t.Errorf("expected agent auth without identities, got '%s'", config.AuthMethod)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
			},
		},
		{
			name:        "missing host",
			modifyFunc:  func(c *Config) { c.Host = "" },
			expectError: true,
			errorMsg:    "host is required",
		},
		{
			name:        "invalid port",
			modifyFunc:  func(c *Config) { c.Port = 0 },
			expectError: true,
			errorMsg:    "invalid port",
		},
		{
			name:        "missing user",
			modifyFunc:  func(c *Config) { c.User = "" },
			expectError: true,
			errorMsg:    "user is required",
		},
		{
			name: "password auth without password",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			expectError: true,
			errorMsg:    "password is required",
		},
		{
			name: "key auth with missing key file",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPaths = []string{"/nonexistent/key"}
			},
			expectError: true,
			errorMsg:    "private key file not found",
		},
		{
			name: "agent auth without agent",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodAgent
			},
			expectError: true,
			errorMsg:    "SSH_AUTH_SOCK",
		},
		{
			name: "unknown auth method",
			modifyFunc: func(c *Config) {
				c.AuthMethod = "kerberos"
			},
			expectError: true,
			errorMsg:    "unsupported auth method",
		},
		{
			name: "invalid connection timeout",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.ConnectionTimeout = 0
			},
			expectError: true,
			errorMsg:    "connection timeout must be positive",
		},
		{
			name: "negative command timeout",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.CommandTimeout = -time.Second
			},
			expectError: true,
			errorMsg:    "command timeout must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SSH_AUTH_SOCK", "")

			config := DefaultConfig("example.com", "deploy")
			tt.modifyFunc(config)

			err := config.Validate()

			if tt.expectError && err == nil {
				t.Fatalf("expected error containing '%s', got nil", tt.errorMsg)
			}
			if !tt.expectError && err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if tt.expectError && !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing '%s', got '%v'", tt.errorMsg, err)
			}
		})
	}
}

func TestConfigValidationFindsDefaultKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	keyPath := filepath.Join(home, ".ssh", "id_ed25519")
	writeTestPrivateKey(t, keyPath)

	config := DefaultConfig("example.com", "deploy")
	if err := config.Validate(); err != nil {
		t.Fatalf("expected default key to be found, got: %v", err)
	}
	if len(config.PrivateKeyPaths) != 1 || config.PrivateKeyPaths[0] != keyPath {
		t.Errorf("expected [%s], got %v", keyPath, config.PrivateKeyPaths)
	}

	t.Setenv("HOME", t.TempDir())
	config = DefaultConfig("example.com", "deploy")
	if err := config.Validate(); err == nil || !strings.Contains(err.Error(), "no default key found") {
		t.Errorf("expected missing default key error, got: %v", err)
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		clientConfig, closer, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("failed to build client config: %v", err)
		}
		defer closer()

		if clientConfig.User != "deploy" {
			t.Errorf("expected user 'deploy', got '%s'", clientConfig.User)
		}
		// password plus keyboard-interactive
		if len(clientConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
		}
		if clientConfig.Timeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", clientConfig.Timeout)
		}
	})

	t.Run("key auth", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "id_ed25519")
		writeTestPrivateKey(t, keyPath)

		config := DefaultConfig("example.com", "deploy")
		config.PrivateKeyPaths = []string{keyPath}
		config.StrictHostKeyChecking = false

		clientConfig, closer, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("failed to build client config: %v", err)
		}
		defer closer()

		if len(clientConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("unparsable key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "id_rsa")
		if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
			t.Fatal(err)
		}

		config := DefaultConfig("example.com", "deploy")
		config.PrivateKeyPaths = []string{keyPath}

		if _, _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("missing known_hosts", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")

		if _, _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected known_hosts error")
		}
	})
}

func writeTestPrivateKey(t *testing.T, path string) {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
}
