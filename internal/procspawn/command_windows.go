//go:build windows

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
		return exec.CommandContext(ctx, "cmd.exe", "/C", line), nil
	case model.ExecutionScriptFile:
		if scriptIsPowerShell(execution.Value) {
			argv := []string{"-File", execution.Value}
			if args != "" {
				argv = append(argv, args)
			}
			return exec.CommandContext(ctx, "powershell.exe", argv...), nil
		}
		line := execution.Value
		if args != "" {
			line += " " + args
		}
		return exec.CommandContext(ctx, "cmd.exe", "/C", line), nil
	default:
		return nil, fmt.Errorf("procspawn: unknown execution type %q", execution.Type)
	}
}
