package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/memcore/config"
	"github.com/deskpet/memcore/core"
	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/session"
)

type scriptReader struct {
	lines []string
	errs  []error
}

func (s *scriptReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line, err := s.lines[0], s.errs[0]
	s.lines, s.errs = s.lines[1:], s.errs[1:]
	return line, err
}

func script(lines ...string) *scriptReader {
	return &scriptReader{lines: lines, errs: make([]error, len(lines))}
}

type echoResponder struct {
	calls []string
}

func (e *echoResponder) Reply(_ context.Context, utterance string, res *core.TurnResult) (string, error) {
	e.calls = append(e.calls, utterance)
	return "echo: " + utterance, nil
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	cfg := config.Default()
	cfg.Memory.Path = filepath.Join(t.TempDir(), "memory")
	cfg.Embedder.Provider = "none"
	sess, err := session.New(context.Background(), cfg, session.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRunChatWithoutResponder(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer

	in := script("I live in Taipei", "", "Where do I live in Taipei?", "memory stats", "exit", "never read")
	require.NoError(t, runChat(context.Background(), sess, in, nil, &out, false))

	got := out.String()
	assert.Contains(t, got, "(remembered as #0)")
	assert.Contains(t, got, "- I live in Taipei")
	assert.Contains(t, got, "Active: 1")
	assert.Contains(t, got, "Bye!")
	assert.Len(t, in.lines, 1)
}

func TestRunChatWithResponder(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer
	r := &echoResponder{}

	in := script("I live in Taipei", "delete everything")
	require.NoError(t, runChat(context.Background(), sess, in, r, &out, false))

	got := out.String()
	assert.Contains(t, got, "echo: I live in Taipei")
	assert.NotContains(t, got, memory.ContextPreamble)
	assert.Contains(t, got, "Forgot all 1 memories.")
	assert.Equal(t, []string{"I live in Taipei"}, r.calls)
}

func TestRunChatInterrupt(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer

	in := &scriptReader{
		lines: []string{"half typed", "", "not reached"},
		errs:  []error{readline.ErrInterrupt, readline.ErrInterrupt, nil},
	}
	require.NoError(t, runChat(context.Background(), sess, in, nil, &out, false))
	assert.Len(t, in.lines, 1)
	assert.Empty(t, out.String())
}

func TestStatsCommand(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "memory")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetErr(io.Discard)
		root.SetArgs(append(args, "--memory", prefix, "--provider", "none", "--env-file", "", "--log-level", "error"))
		require.NoError(t, root.Execute())
		return out.String()
	}

	var st memory.Stats
	require.NoError(t, json.Unmarshal([]byte(run("stats", "--json")), &st))
	assert.Equal(t, memory.Stats{}, st)

	assert.Contains(t, run("list"), "No memories.")
	assert.Contains(t, run("forget", "3"), "no active memory 3")
	assert.Contains(t, run("cleanup"), "removed 0 deleted memories, 0 remain")
}
