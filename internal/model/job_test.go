package model

import "testing"

func TestJobCloneDoesNotAliasMutableFields(t *testing.T) {
	exitCode := int32(0)
	orig := Job{
		ID:           NewID(),
		Name:         "job",
		EnvVars:      map[string]string{"A": "1"},
		LastExitCode: &exitCode,
	}

	cp := orig.Clone()
	cp.EnvVars["A"] = "2"
	*cp.LastExitCode = 99

	if orig.EnvVars["A"] != "1" {
		t.Fatal("expected Clone to copy EnvVars, not alias it")
	}
	if *orig.LastExitCode != 0 {
		t.Fatal("expected Clone to copy LastExitCode, not alias it")
	}
}

func TestIsUUIDRejectsPlainNames(t *testing.T) {
	if IsUUID("daily-backup") {
		t.Fatal("expected a plain name not to parse as a UUID")
	}
	if !IsUUID(NewID().String()) {
		t.Fatal("expected a generated ID to parse as a UUID")
	}
}
