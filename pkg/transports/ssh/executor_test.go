package ssh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onepush/onepush/pkg/host"
)

func TestExecute(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if err := client.Execute(ctx, "true"); err != nil {
		t.Fatalf("expected success, got: %v", err)
	}

	err := client.Execute(ctx, "exit 3")
	if err == nil {
		t.Fatal("expected non-zero exit to fail")
	}
	code, ok := ExitStatus(err)
	if !ok || code != 3 {
		t.Errorf("expected exit status 3, got %d (%v)", code, ok)
	}

	err = client.Execute(ctx, "fail boom")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected stderr in error message, got: %v", err)
	}
}

func TestTest(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		cmd  string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"exit 127", false},
		{"echo hi", true},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got, err := client.Test(ctx, tt.cmd)
			if err != nil {
				t.Fatalf("probe returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCapture(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	t.Run("trims stdout", func(t *testing.T) {
		out, err := client.Capture(ctx, "echo test", host.CaptureOptions{})
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}
		if out != "test" {
			t.Errorf("expected 'test', got '%s'", out)
		}
	})

	t.Run("stderr is not captured", func(t *testing.T) {
		out, err := client.Capture(ctx, "echo error >&2", host.CaptureOptions{RaiseOnNonZeroExit: true})
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}
		if out != "" {
			t.Errorf("expected empty stdout, got '%s'", out)
		}
	})

	t.Run("tolerates non-zero exit", func(t *testing.T) {
		out, err := client.Capture(ctx, "fail boom", host.CaptureOptions{})
		if err != nil {
			t.Fatalf("expected tolerated exit, got: %v", err)
		}
		if out != "partial" {
			t.Errorf("expected 'partial', got '%s'", out)
		}
	})

	t.Run("raises on non-zero exit", func(t *testing.T) {
		_, err := client.Capture(ctx, "fail boom", host.CaptureOptions{RaiseOnNonZeroExit: true})
		if code, ok := ExitStatus(err); !ok || code != 2 {
			t.Errorf("expected exit status 2, got %v", err)
		}
	})
}

func TestExecuteCancelled(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := client.Execute(ctx, "hang")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got: %v", err)
	}
	if _, ok := ExitStatus(err); ok {
		t.Error("cancelled command must not carry an exit status")
	}
}

func TestCommandTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	config := testConfig(t, server)
	config.CommandTimeout = 200 * time.Millisecond

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	if _, err := client.Test(context.Background(), "hang"); err == nil {
		t.Fatal("expected command timeout")
	}
}

func TestExecuteNotConnected(t *testing.T) {
	server := newTestSSHServer(t)
	client, err := NewSSHClient(testConfig(t, server))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.Execute(context.Background(), "true")
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "get-client" {
		t.Errorf("expected get-client transport error, got: %v", err)
	}
}
