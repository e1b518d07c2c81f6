package ipc_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/haggle-net/haggle/internal/ipc"
)

func TestProbeDaemonMissingFile(t *testing.T) {
	alive, err := ipc.ProbeDaemon(filepath.Join(t.TempDir(), "does-not-exist.pid"))
	if err != nil {
		t.Fatalf("ProbeDaemon: %v", err)
	}
	if alive {
		t.Fatal("expected not alive for missing pid file")
	}
}

func TestProbeDaemonSelfProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "self.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	alive, err := ipc.ProbeDaemon(path)
	if err != nil {
		t.Fatalf("ProbeDaemon: %v", err)
	}
	if !alive {
		t.Fatal("expected current process to be reported alive")
	}
}

func TestProbeDaemonStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	// PID 1 belongs to init in any container/namespace this test runs in,
	// but a very large unused PID is a closer approximation of "stale".
	if err := os.WriteFile(path, []byte("999999"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	alive, err := ipc.ProbeDaemon(path)
	if err != nil {
		t.Fatalf("ProbeDaemon: %v", err)
	}
	if alive {
		t.Fatal("expected pid 999999 to be reported not alive")
	}
}

func TestProbeDaemonMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := ipc.ProbeDaemon(path); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}
