package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

func writePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPidFile, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPidFile, err)
	}
	return nil
}

func removePidFile(path string) {
	_ = os.Remove(path)
}
