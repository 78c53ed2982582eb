package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/saylorsolutions/qmcdecode/pkg/qmc"
)

// Exit codes shared by commands in this module.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitConflict = 3
)

// FatalCode will Echo the message and os.Exit with the given code.
func FatalCode(code int, msg string, args ...any) {
	Echo(msg, args...)
	os.Exit(code)
}

// ExitCode picks the exit code for an error that ends a command.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, qmc.ErrInvalidArgument):
		return ExitUsage
	case errors.Is(err, qmc.ErrOutputConflict):
		return ExitConflict
	default:
		return ExitFailure
	}
}

// Echo will emit the given message without any logging formatting.
func Echo(msg string, args ...any) {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	_, _ = fmt.Fprintf(os.Stderr, msg, args...)
}
