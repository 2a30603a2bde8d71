package devsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// ToolchainPath reports where the installed function toolchain lives.
type ToolchainPath interface {
	BinaryPath() string
}

// CommandBuilder builds an extension by running its build.command through
// the shell in the extension directory. Functions are checked with
// extension.ValidateWasm once built.
type CommandBuilder struct {
	// Shell runs the command; {"sh", "-c"} when empty.
	Shell     []string
	Stdout    io.Writer
	Stderr    io.Writer
	Toolchain ToolchainPath
	Logger    *slog.Logger
}

var _ Builder = (*CommandBuilder)(nil)

// Build implements Builder. An extension without a build command is
// considered built.
func (b *CommandBuilder) Build(ctx context.Context, ext *extension.Instance) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default().With("component", "devsession")
	}
	command := ext.Base.Build.Command
	if command == "" {
		logger.Debug("no build command, nothing to build", "extension", ext.LocalIdentifier)
		return nil
	}

	shell := b.Shell
	if len(shell) == 0 {
		shell = []string{"sh", "-c"}
	}
	args := append(append([]string(nil), shell[1:]...), command)
	cmd := exec.CommandContext(ctx, shell[0], args...)
	cmd.Dir = ext.Directory
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"APPDEV_EXTENSION_HANDLE="+ext.Handle,
		"APPDEV_EXTENSION_TYPE="+ext.Type(),
		"APPDEV_OUTPUT_PATH="+ext.OutputPath(),
	)
	if b.Toolchain != nil && b.Toolchain.BinaryPath() != "" {
		cmd.Env = append(cmd.Env, "APPDEV_TOOLCHAIN="+b.Toolchain.BinaryPath())
	}

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("build command %q exited with code %d", command, exitErr.ExitCode())
		}
		return fmt.Errorf("build command %q: %w", command, err)
	}
	logger.Debug("extension built", "extension", ext.LocalIdentifier, "duration", time.Since(start))

	if ext.IsFunctionExtension() {
		if err := extension.ValidateWasm(ctx, ext.OutputPath()); err != nil {
			return fmt.Errorf("validate %s: %w", ext.LocalIdentifier, err)
		}
	}
	return nil
}
