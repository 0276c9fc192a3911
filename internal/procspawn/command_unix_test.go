//go:build !windows

package procspawn

import (
	"context"
	"testing"

	"github.com/corecron/acsd/internal/model"
)

func TestBuildCommandShellCommand(t *testing.T) {
	cmd, err := buildCommand(context.Background(), model.Execution{Type: model.ExecutionShellCommand, Value: "echo hi"}, "")
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	wantArgs := []string{"/bin/sh", "-c", "echo hi"}
	if len(cmd.Args) != len(wantArgs) {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
	for i, a := range wantArgs {
		if cmd.Args[i] != a {
			t.Fatalf("unexpected args: %v", cmd.Args)
		}
	}
}

func TestBuildCommandShellCommandAppendsTriggerArgs(t *testing.T) {
	cmd, err := buildCommand(context.Background(), model.Execution{Type: model.ExecutionShellCommand, Value: "echo"}, "hi")
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if cmd.Args[2] != "echo hi" {
		t.Fatalf("expected trigger args to be appended to the command line, got %q", cmd.Args[2])
	}
}

func TestBuildCommandScriptFilePowerShellRunsUnderShOnUnix(t *testing.T) {
	// .ps1 only gets a PowerShell interpreter on Windows; on Unix-likes
	// every script file, regardless of extension, runs under /bin/sh.
	cmd, err := buildCommand(context.Background(), model.Execution{Type: model.ExecutionScriptFile, Value: "/scripts/job.ps1"}, "")
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "/scripts/job.ps1" {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
}

func TestBuildCommandScriptFileOther(t *testing.T) {
	cmd, err := buildCommand(context.Background(), model.Execution{Type: model.ExecutionScriptFile, Value: "/scripts/job.sh"}, "")
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "/scripts/job.sh" {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
}

func TestBuildCommandUnknownExecutionType(t *testing.T) {
	if _, err := buildCommand(context.Background(), model.Execution{Type: "bogus"}, ""); err == nil {
		t.Fatal("expected an error for an unknown execution type")
	}
}
