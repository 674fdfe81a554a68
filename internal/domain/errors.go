package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindMediaProcessing ErrorKind = "media_processing"
	KindConnection      ErrorKind = "connection"
	KindTransfer        ErrorKind = "transfer"
	KindRemoteExecution ErrorKind = "remote_execution"
	KindCheckpoint      ErrorKind = "checkpoint"
)

const (
	ReasonInvalidInput       = "invalid-input"
	ReasonStillExceedsBudget = "still-exceeds-budget"
	ReasonDegenerate         = "degenerate-resolution"
	ReasonUnreadableSource   = "unreadable-source"
	ReasonProbeFailed        = "probe-failed"
	ReasonTranscodeFailed    = "transcode-failed"
	ReasonUnreachable        = "unreachable"
	ReasonConnectionLost     = "connection-lost"
	ReasonIntegrity          = "integrity-mismatch"
	ReasonTransferFailed     = "transfer-failed"
	ReasonNonZeroExit        = "non-zero-exit"
	ReasonTimeout            = "timeout"
	ReasonCancelled          = "cancelled"
	ReasonDuplicate          = "duplicate"
	ReasonStorage            = "storage"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrMediaProcessing = errors.New("media processing error")
	ErrConnection      = errors.New("connection error")
	ErrTransfer        = errors.New("transfer error")
	ErrRemoteExecution = errors.New("remote execution error")
	ErrCheckpoint      = errors.New("checkpoint error")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:      ErrValidation,
	KindMediaProcessing: ErrMediaProcessing,
	KindConnection:      ErrConnection,
	KindTransfer:        ErrTransfer,
	KindRemoteExecution: ErrRemoteExecution,
	KindCheckpoint:      ErrCheckpoint,
}

// CommandOutput is the captured result of one remote command.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
	Output *CommandOutput
}

func NewError(kind ErrorKind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		b.WriteString(sentinel.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Output != nil {
		fmt.Fprintf(&b, " [exit=%d]", e.Output.ExitCode)
		if stderr := strings.TrimSpace(e.Output.Stderr); stderr != "" {
			b.WriteString(" stderr: ")
			b.WriteString(lastLine(stderr))
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so callers can write
// errors.Is(err, ErrTransfer).
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the kind of the outermost domain error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

// IsFatal reports whether err must abort the whole batch pass rather than a
// single item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrCheckpoint)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
