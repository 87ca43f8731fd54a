package checks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/config"
)

func TestRunPassAndFail(t *testing.T) {
	r := NewRunner(t.TempDir(), 4000)

	pass := r.Run(context.Background(), KindBuild, Command{Binary: "sh", Args: []string{"-c", "echo ok"}})
	assert.True(t, pass.Passed)
	assert.Equal(t, KindBuild, pass.Kind)
	assert.Contains(t, pass.Output, "ok")

	fail := r.Run(context.Background(), KindTest, Command{Binary: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	assert.False(t, fail.Passed)
	assert.Contains(t, fail.Output, "boom", "stderr is captured alongside stdout")
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner(t.TempDir(), 4000)

	result := r.Run(context.Background(), KindTest, Command{
		Binary:  "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Output, "timed out after")
}

func TestRunTruncatesOutput(t *testing.T) {
	r := NewRunner(t.TempDir(), 100)

	result := r.Run(context.Background(), KindBuild, Command{
		Binary: "sh",
		Args:   []string{"-c", "head -c 1000 /dev/zero | tr '\\0' 'x'"},
	})
	assert.True(t, result.Passed)
	assert.True(t, result.Truncated)
	assert.True(t, strings.HasSuffix(result.Output, "\n[truncated]"))
	assert.Len(t, result.Output, 100+len("\n[truncated]"))
}

func TestRunMissingBinary(t *testing.T) {
	r := NewRunner(t.TempDir(), 4000)
	result := r.Run(context.Background(), KindEdit, Command{Binary: "definitely-not-a-real-binary-xyz"})
	assert.False(t, result.Passed)
}

func TestFromToolAppendsExtraArgs(t *testing.T) {
	r := NewRunner("/work", 4000)
	tool := config.ToolCommand{Binary: "claude", Args: []string{"-p"}, Timeout: time.Minute}

	cmd := r.FromTool(tool, "the prompt")
	assert.Equal(t, "claude", cmd.Binary)
	assert.Equal(t, []string{"-p", "the prompt"}, cmd.Args)
	assert.Equal(t, "/work", cmd.Dir)
	assert.Equal(t, time.Minute, cmd.Timeout)

	// The configured tool's arg slice must not be mutated.
	require.Equal(t, []string{"-p"}, tool.Args)
}

func TestTruncate(t *testing.T) {
	out, cut := Truncate("short", 100)
	assert.Equal(t, "short", out)
	assert.False(t, cut)

	out, cut = Truncate("0123456789", 4)
	assert.Equal(t, "0123\n[truncated]", out)
	assert.True(t, cut)

	out, cut = Truncate("anything", 0)
	assert.Equal(t, "anything", out)
	assert.False(t, cut, "zero cap disables truncation")
}
