package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/deskpet/memcore/core"
	"github.com/deskpet/memcore/engine"
	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/session"
)

var exitWords = map[string]struct{}{
	"exit": {}, "quit": {}, "bye": {}, "退出": {},
}

// lineReader is the part of readline the chat loop needs.
type lineReader interface {
	Readline() (string, error)
}

// responder produces the reply shown for a turn.
type responder interface {
	Reply(ctx context.Context, utterance string, res *core.TurnResult) (string, error)
}

func newChatCmd(g *globals) *cobra.Command {
	var (
		noReply     bool
		showContext bool
		historyFile string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `chat reads utterances from the terminal. Each turn is run through the
memory core; when ANTHROPIC_API_KEY is set the memory context is sent to
Claude for a reply, otherwise the context itself is printed.

Say "list memories", "memory stats" or "cleanup" to manage memories, and
"forget ..." to delete them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, err := g.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeSession(sess)

			out := cmd.OutOrStdout()
			var r responder
			if !noReply && g.cfg.Responder.APIKey != "" {
				client := anthropic.NewClient(option.WithAPIKey(g.cfg.Responder.APIKey))
				r = engine.NewEngine(&client,
					engine.WithModel(g.cfg.Responder.Model),
					engine.WithMaxTokens(g.cfg.Responder.MaxTokens),
					engine.WithLogger(logging.Default()),
				)
			}

			if historyFile == "" {
				if dir, err := os.UserCacheDir(); err == nil {
					historyFile = filepath.Join(dir, "memchat_history")
				}
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          out,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start line editor")
			}
			defer rl.Close()

			fmt.Fprintf(out, "memchat %s (%s mode, %d memories). Type \"exit\" to quit.\n",
				version, sess.Mode(), sess.Stats().Active)
			return runChat(ctx, sess, rl, r, out, showContext)
		},
	}
	cmd.Flags().BoolVar(&noReply, "no-reply", false, "Do not call Claude even when an API key is set")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the memory context before each reply")
	cmd.Flags().StringVar(&historyFile, "history-file", "", "Line editor history file")
	return cmd
}

// runChat drives the REPL until EOF, an exit word or a double interrupt.
func runChat(ctx context.Context, sess *session.Session, in lineReader, r responder, out io.Writer, showContext bool) error {
	for {
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if _, ok := exitWords[strings.ToLower(text)]; ok {
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		res := sess.ProcessTurn(ctx, text)
		printTurn(ctx, out, text, res, r, showContext)
	}
}

func printTurn(ctx context.Context, out io.Writer, text string, res *core.TurnResult, r responder, showContext bool) {
	if res.HasResponse() {
		fmt.Fprintln(out, res.Response)
		return
	}
	if res.MemoryAction == core.ActionAdd && res.MemoryID != nil {
		fmt.Fprintf(out, "(remembered as #%d)\n", *res.MemoryID)
	}

	if r == nil || showContext {
		fmt.Fprintln(out, res.Context)
	}
	if r == nil {
		return
	}

	reply, err := r.Reply(ctx, text, res)
	if err != nil {
		logging.From(ctx).Error("reply failed", "error", err)
		fmt.Fprintln(out, "(no reply: the generator is unavailable)")
		return
	}
	fmt.Fprintln(out, reply)
}
