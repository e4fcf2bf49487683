package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// ExitWithCode logs a fatal diagnostic and terminates the process with the
// given foundry exit code. Reserved for failures where returning an error
// up the cobra stack would lose the code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if err != nil {
		logger.Error(message, zap.Int("exit_code", code), zap.Error(err))
	} else {
		logger.Error(message, zap.Int("exit_code", code))
	}
	_ = logger.Sync()
	os.Exit(code)
}
