package core

import (
	"errors"
	"fmt"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitRuntime  = 1
	ExitUsage    = 2
	ExitBusy     = 3
	ExitNotFound = 4
	ExitConflict = 5
)

// replyExits maps navigator reply codes to exit codes. Anything else is a
// runtime failure.
var replyExits = map[string]int{
	mp.CodeInvalid:  ExitUsage,
	mp.CodeNotFound: ExitNotFound,
	mp.CodeBusy:     ExitBusy,
	mp.CodeConflict: ExitConflict,
}

// CLIError carries a user-visible message and exit code. Reply holds the
// navigator's reply code when the error came back over the broker.
type CLIError struct {
	Code  int
	Reply string
	Msg   string
	Err   error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// FromReply converts a navigator error reply.
func FromReply(replyErr mp.ReplyError) *CLIError {
	code, ok := replyExits[replyErr.Code]
	if !ok {
		code = ExitRuntime
	}
	msg := replyErr.Message
	if msg == "" {
		msg = "navigator replied " + replyErr.Code
	}
	return &CLIError{Code: code, Reply: replyErr.Code, Msg: msg}
}

// IsReply reports whether err carries the navigator reply code.
func IsReply(err error, code string) bool {
	var cliErr *CLIError
	return errors.As(err, &cliErr) && cliErr.Reply == code
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
