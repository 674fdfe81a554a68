package fsutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const lockOwnerFile = "owner.json"

var ErrLocked = errors.New("location is locked")

// Lock is an exclusive lock directory next to the resource it guards.
type Lock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireLock creates <path>.lock. A second acquire fails with ErrLocked
// until the first lock is released.
func AcquireLock(path string) (Lock, error) {
	target := strings.TrimSpace(path)
	if target == "" {
		return Lock{}, fmt.Errorf("lock target is required")
	}

	lockDir := target + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockDir), 0o755); err != nil {
		return Lock{}, fmt.Errorf("create parent for %s: %w", lockDir, err)
	}
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner lockOwner
			if data, readErr := os.ReadFile(filepath.Join(lockDir, lockOwnerFile)); readErr == nil &&
				json.Unmarshal(data, &owner) == nil && owner.PID > 0 {
				return Lock{}, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
					ErrLocked, target, owner.PID, owner.CreatedAt, owner.Hostname)
			}
			return Lock{}, fmt.Errorf("%w: %s", ErrLocked, target)
		}
		return Lock{}, fmt.Errorf("acquire lock for %s: %w", target, err)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err == nil {
		err = WriteFile(filepath.Join(lockDir, lockOwnerFile), append(data, '\n'), 0o644)
	}
	if err != nil {
		_ = os.RemoveAll(lockDir)
		return Lock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}

	return Lock{dir: lockDir}, nil
}

func (l Lock) Release() error {
	if l.dir == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, lockOwnerFile))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
