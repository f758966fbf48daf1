package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestTryLockAndUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	fl := NewFileLock(path)

	if err := fl.TryLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("lock file pid = %q, want %d", strings.TrimSpace(string(data)), os.Getpid())
	}

	if err := fl.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file should be removed after unlock")
	}
}

func TestSecondHolderFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	first := NewFileLock(path)
	if err := first.TryLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer first.Unlock()

	second := NewFileLock(path)
	if err := second.TryLock(); err == nil {
		second.Unlock()
		t.Fatal("second holder should fail while the first holds the lock")
	}
}

func TestRelockAfterUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.lock")
	fl := NewFileLock(path)
	if err := fl.TryLock(); err != nil {
		t.Fatal(err)
	}
	if err := fl.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := fl.TryLock(); err != nil {
		t.Fatalf("relock: %v", err)
	}
	fl.Unlock()
}

func TestUnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "session.lock"))
	if err := fl.Unlock(); err != nil {
		t.Errorf("unlock without lock: %v", err)
	}
}
