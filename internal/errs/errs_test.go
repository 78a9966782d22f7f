package errs

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *ScanError
		want string
	}{
		{"non zero", &ScanError{Kind: ScanNonZeroExit, ExitCode: 1, Detail: "boom"}, "scan failed: exit status 1: boom"},
		{"timeout", &ScanError{Kind: ScanTimeout, Err: context.DeadlineExceeded}, "scan failed: timed out"},
		{"launch", &ScanError{Kind: ScanLaunchFailed, Err: fs.ErrNotExist}, "scan failed: launch_failed: file does not exist"},
		{"launch no cause", &ScanError{Kind: ScanLaunchFailed}, "scan failed: launch_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestScanError_Unwrap(t *testing.T) {
	var err error = &ScanError{Kind: ScanTimeout, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var se *ScanError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, ScanTimeout, se.Kind)
}

func TestPersistenceError(t *testing.T) {
	err := &PersistenceError{Op: "remove", Path: "uploads/x.txt", Err: fs.ErrPermission}
	assert.Equal(t, "persistence: remove uploads/x.txt: permission denied", err.Error())
	assert.ErrorIs(t, err, fs.ErrPermission)

	err = &PersistenceError{Op: "save users", Err: fs.ErrClosed}
	assert.Equal(t, "persistence: save users: file already closed", err.Error())
}
