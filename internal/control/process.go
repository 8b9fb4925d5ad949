package control

import (
	"os"

	"golang.org/x/sys/unix"
)

// Process is the OS process a task runs in.
type Process interface {
	// Suspend stops the process and returns once it has been continued.
	Suspend() error
	Exit(code int)
}

// OS is the current process.
type OS struct{}

// Suspend sends SIGSTOP to the process itself. SIGSTOP cannot be blocked,
// so delivery happens before kill returns and the call comes back only
// after an external SIGCONT.
func (OS) Suspend() error {
	return unix.Kill(os.Getpid(), unix.SIGSTOP)
}

func (OS) Exit(code int) { os.Exit(code) }
