package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestConfirmReset(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes confirms", "yes\n", true},
		{"no aborts", "no\n", false},
		{"empty aborts", "\n", false},
		{"whitespace around yes", "  yes  \n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			out := new(bytes.Buffer)
			cmd.SetOut(out)
			cmd.SetIn(strings.NewReader(tt.input))

			if got := confirmReset(cmd, "buildyard_test"); got != tt.want {
				t.Errorf("confirmReset() = %t, want %t", got, tt.want)
			}
			if !strings.Contains(out.String(), "buildyard_test") {
				t.Errorf("prompt %q missing database name", out.String())
			}
		})
	}
}

func TestDBInit_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "init", "--config", "/nonexistent/buildyard.yaml"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
