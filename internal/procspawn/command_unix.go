//go:build !windows

package procspawn

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/corecron/acsd/internal/model"
)

func buildCommand(ctx context.Context, execution model.Execution, args string) (*exec.Cmd, error) {
	switch execution.Type {
	case model.ExecutionShellCommand:
		line := execution.Value
		if args != "" {
			line += " " + args
		}
		return exec.CommandContext(ctx, "/bin/sh", "-c", line), nil
	case model.ExecutionScriptFile:
		// .ps1 scripts only get a PowerShell interpreter on Windows; here
		// every script file runs under /bin/sh regardless of extension.
		argv := []string{execution.Value}
		if args != "" {
			argv = append(argv, args)
		}
		return exec.CommandContext(ctx, "/bin/sh", argv...), nil
	default:
		return nil, fmt.Errorf("procspawn: unknown execution type %q", execution.Type)
	}
}
