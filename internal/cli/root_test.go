package cli

import (
	"errors"
	"testing"

	dherrors "github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsUnknownCommandError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "unknown command error",
			err:  errors.New(`unknown command "foo" for "dockhop"`),
			want: true,
		},
		{
			name: "unknown flag error",
			err:  errors.New(`unknown flag: --foo`),
			want: true,
		},
		{
			name: "other error",
			err:  errors.New("connection failed"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				// Can't call isUnknownCommandError with nil
				return
			}
			got := isUnknownCommandError(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractUnknownCommand(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "standard cobra format",
			err:  errors.New(`unknown command "foo" for "dockhop"`),
			want: "foo",
		},
		{
			name: "task name",
			err:  errors.New(`unknown command "test" for "dockhop"`),
			want: "test",
		},
		{
			name: "command with hyphen",
			err:  errors.New(`unknown command "my-task" for "dockhop"`),
			want: "my-task",
		},
		{
			name: "no quotes returns empty",
			err:  errors.New("unknown command foo"),
			want: "",
		},
		{
			name: "single quote returns empty",
			err:  errors.New(`unknown command "foo`),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUnknownCommand(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnknownCommandMessage(t *testing.T) {
	assert.Equal(t, "Unknown command 'stauts'", unknownCommandMessage(errors.New(`unknown command "stauts" for "dockhop"`)))
	assert.Equal(t, "Unknown command or flag", unknownCommandMessage(errors.New("unknown flag: --bogus")))
}

func TestRenderError(t *testing.T) {
	plain := renderError(errors.New("boom"))
	assert.Equal(t, "✗ boom\n", plain)

	structured := renderError(dherrors.New(dherrors.ErrConfig, "No hosts.yaml found", "Run 'dockhop init'"))
	assert.Contains(t, structured, "✗ No hosts.yaml found")
	assert.Contains(t, structured, "Run 'dockhop init'")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"status", "watch", "check", "inspect", "hosts", "init", "version"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "log-level", "log-file", "no-color"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}
