// Package idgen allocates assessment IDs. The preferred form is a short
// monotonic integer coordinated across processes through an exclusive file
// lock; when the lock cannot be taken the allocator falls back to a UUID so
// ID allocation never blocks an upload.
package idgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sievehq/sieve/internal/logutil"
)

// lockAcquireTimeout bounds how long an allocation waits on the file lock
// before falling back to a UUID.
const lockAcquireTimeout = 2 * time.Second

// Allocator hands out IDs. Safe for concurrent use within a process; the
// file lock coordinates across processes on the same node.
type Allocator struct {
	// mu serializes in-process callers around the file lock acquisition
	mu sync.Mutex

	lockPath    string
	counterPath string
	logger      logutil.LoggerInterface
}

// New creates an allocator persisting its counter under dir
func New(dir string, logger logutil.LoggerInterface) (*Allocator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create id generator directory: %w", err)
	}
	return &Allocator{
		lockPath:    filepath.Join(dir, "assessment_id.lock"),
		counterPath: filepath.Join(dir, "assessment_id_counter"),
		logger:      logger,
	}, nil
}

// Next allocates the next ID. Returns a short monotonic integer as a string
// when the file lock cooperates, a UUID otherwise. IDs are always strings
// at the interface boundary.
func (a *Allocator) Next() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, err := a.nextLocked()
	if err != nil {
		fallback := uuid.New().String()
		a.logger.Warn("monotonic id allocation failed (%v), falling back to UUID %s", err, fallback)
		return fallback
	}
	return id
}

// Current returns the last allocated integer without advancing the counter.
// Zero when no integer has been allocated yet.
func (a *Allocator) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counter, err := a.readCounter()
	if err != nil {
		return 0
	}
	return counter
}

// nextLocked takes the file lock, reloads the counter from disk, advances
// it, and persists before releasing. Reloading under the lock is what makes
// allocation safe across processes: another process may have advanced the
// counter since our last read.
func (a *Allocator) nextLocked() (string, error) {
	lockFile, err := os.OpenFile(a.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockWithTimeout(lockFile, lockAcquireTimeout); err != nil {
		return "", err
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	counter, err := a.readCounter()
	if err != nil {
		return "", err
	}
	next := counter + 1
	if err := a.writeCounter(next); err != nil {
		return "", err
	}
	return strconv.Itoa(next), nil
}

// flockWithTimeout polls a non-blocking flock until it succeeds or the
// timeout elapses. A stale holder (crashed process keeps the lock open)
// surfaces as a timeout and triggers the UUID fallback.
func flockWithTimeout(file *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			return fmt.Errorf("flock failed: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("could not acquire id lock within %v", timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (a *Allocator) readCounter() (int, error) {
	data, err := os.ReadFile(a.counterPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read id counter: %w", err)
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("id counter file is corrupt: %w", err)
	}
	return value, nil
}

// writeCounter persists through a rename so a crash mid-write cannot leave
// a truncated counter behind.
func (a *Allocator) writeCounter(value int) error {
	tmp := a.counterPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(value)), 0o644); err != nil {
		return fmt.Errorf("failed to write id counter: %w", err)
	}
	if err := os.Rename(tmp, a.counterPath); err != nil {
		return fmt.Errorf("failed to commit id counter: %w", err)
	}
	return nil
}
