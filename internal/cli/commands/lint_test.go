package commands

import (
	"bytes"
	"testing"

	"github.com/cfnworks/cfnview/internal/lspclient"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	tests := []struct {
		name string
		code any
		want string
	}{
		{"nil", nil, ""},
		{"string", "E3002", "E3002"},
		{"number", float64(3002), "3002"},
		{"other", true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codeString(tt.code))
		})
	}
}

func TestStyleSeverity(t *testing.T) {
	// Styling must preserve the severity word regardless of color support
	assert.Contains(t, styleSeverity(lspclient.SeverityError), "error")
	assert.Contains(t, styleSeverity(lspclient.SeverityWarning), "warning")
	assert.Contains(t, styleSeverity(lspclient.SeverityInformation), "info")
	assert.Contains(t, styleSeverity(lspclient.SeverityHint), "hint")
}

func TestRenderReports(t *testing.T) {
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	reports := []fileReport{
		{Path: "/tmp/clean.yaml"},
		{Path: "/tmp/broken.yaml", Diagnostics: []lspclient.Diagnostic{
			{
				Range:    lspclient.Range{Start: lspclient.Position{Line: 4, Character: 2}},
				Severity: lspclient.SeverityError,
				Code:     "E3002",
				Message:  "Resource type not recognized",
			},
		}},
	}
	renderReports(cmd, reports)

	out := buf.String()
	assert.Contains(t, out, "/tmp/clean.yaml")
	assert.Contains(t, out, "no findings")
	assert.Contains(t, out, "/tmp/broken.yaml")
	// Positions are reported one-based
	assert.Contains(t, out, "5:3")
	assert.Contains(t, out, "E3002")
	assert.Contains(t, out, "Resource type not recognized")
}

func TestLintCommand_RejectsUnknownFormat(t *testing.T) {
	cmd := NewLintCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--format", "xml", "stack.yaml"})

	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
