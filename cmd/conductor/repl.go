package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"conductor/pkg/orchestrator"
	"conductor/pkg/proto"
	"conductor/pkg/utils"
)

const maxLineBytes = 1 << 20

// conversations is the orchestrator surface the REPL drives.
type conversations interface {
	Handle(ctx context.Context, req proto.Request) proto.Response
	Clear(ctx context.Context, id string) bool
	ConversationStats(id string) (orchestrator.ConversationStats, bool)
}

// repl runs one conversation on a line-oriented terminal.
type repl struct {
	conv    conversations
	scanner *bufio.Scanner
	out     io.Writer
	newID   func() string
	convID  string
	mode    proto.Mode
}

func newREPL(conv conversations, in io.Reader, out io.Writer) *repl {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	r := &repl{
		conv:    conv,
		scanner: scanner,
		out:     out,
		newID:   uuid.NewString,
		mode:    proto.ModeChat,
	}
	r.convID = r.newID()
	return r
}

// Run reads lines until EOF, /quit, or ctx is cancelled.
func (r *repl) Run(ctx context.Context) error {
	fmt.Fprintf(r.out, "conductor chat (conversation %s). Type /help for commands.\n", r.convID)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintf(r.out, "[%s] > ", r.mode)
		if !r.scanner.Scan() {
			fmt.Fprintln(r.out)
			if err := r.scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		}

		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := r.command(ctx, line); done {
				return nil
			}
			continue
		}

		resp := r.conv.Handle(ctx, proto.Request{ConversationID: r.convID, Message: line})
		r.printResponse(&resp)
	}
}

// command runs a slash command and reports whether the session should end.
func (r *repl) command(ctx context.Context, line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/new":
		r.conv.Clear(ctx, r.convID)
		r.convID = r.newID()
		r.mode = proto.ModeChat
		fmt.Fprintf(r.out, "Started conversation %s\n", r.convID)
	case "/stats":
		stats, ok := r.conv.ConversationStats(r.convID)
		if !ok {
			fmt.Fprintln(r.out, "No messages yet.")
			return false
		}
		fmt.Fprintf(r.out, "mode=%s messages=%d artifacts=%d errors=%d retry_entries=%d\n",
			stats.Mode, stats.MessageCount, stats.ArtifactCount, stats.ErrorCount, stats.RetryEntries)
	case "/help":
		fmt.Fprintln(r.out, "/new    start a new conversation")
		fmt.Fprintln(r.out, "/stats  show conversation statistics")
		fmt.Fprintln(r.out, "/quit   leave")
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help.\n", line)
	}
	return false
}

func (r *repl) printResponse(resp *proto.Response) {
	if resp.Mode.IsValid() {
		r.mode = resp.Mode
	}
	fmt.Fprintln(r.out, resp.Message)
	if len(resp.ArtifactsChanged) > 0 {
		fmt.Fprintf(r.out, "Changed: %s\n", strings.Join(resp.ArtifactsChanged, ", "))
	}
	if warnings := utils.GetMapFieldOr[[]string](resp.Metadata, proto.MetaWarnings, nil); len(warnings) > 0 {
		fmt.Fprintf(r.out, "Warnings: %s\n", strings.Join(warnings, "; "))
	}
	if resp.Message == "" && resp.Error != "" {
		fmt.Fprintf(r.out, "Error: %s\n", resp.Error)
	}
	if utils.GetMapFieldOr(resp.Metadata, proto.MetaNeedsClarification, false) {
		fmt.Fprintln(r.out, "(Answer the questions above to continue.)")
	}
}
