package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/tierllm/internal/manager"
	"github.com/flemzord/tierllm/pkg/app"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model on the terminal",
		Long: "chat reads one message per line. Commands: /clear drops the session history, " +
			"/status prints the manager status, /quit exits. Exchanges are recorded in the " +
			"chat log when chatlog.sqlite is configured; --session resumes a recorded session.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			session, _ := cmd.Flags().GetString("session")
			user, _ := cmd.Flags().GetString("user")
			mode, _ := cmd.Flags().GetString("mode")

			rt, err := app.Build(cmd.Context(), params)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.App.Start(); err != nil {
				return err
			}

			m, err := rt.Manager()
			if err != nil {
				return err
			}
			c := &chatSession{
				manager: m,
				user:    user,
				session: session,
				mode:    mode,
				out:     cmd.OutOrStdout(),
			}
			if rec, ok := rt.Recorder(); ok {
				c.record = rec.Record
			}
			return c.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().String("session", "", "Resume a recorded session (a new session id is generated when empty)")
	cmd.Flags().String("user", "", "User id recorded with each exchange")
	cmd.Flags().String("mode", manager.DefaultMode, "System prompt mode")
	return cmd
}

// chatSession is the terminal loop standing in for a chat front end.
type chatSession struct {
	manager *manager.Manager
	user    string
	session string
	mode    string
	out     io.Writer
	record  func(ctx context.Context, userID, sessionID, message, response string) error
}

func (c *chatSession) run(ctx context.Context, in io.Reader) error {
	if c.session == "" {
		c.session = manager.NewSessionID()
	} else if c.manager.LoadHistory(ctx, c.user, c.session) {
		fmt.Fprintf(c.out, "resumed session %s\n", c.session)
	}
	fmt.Fprintf(c.out, "session %s, type /quit to exit\n", c.session)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			c.manager.ClearHistory(c.session)
			fmt.Fprintln(c.out, "history cleared")
			continue
		case "/status":
			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(c.manager.Status()); err != nil {
				return err
			}
			continue
		}

		reply := c.manager.GenerateResponse(ctx, line, c.session, c.mode)
		fmt.Fprintln(c.out, reply)
		if c.record != nil && !manager.IsFallback(reply) {
			if err := c.record(ctx, c.user, c.session, line, reply); err != nil {
				fmt.Fprintf(c.out, "warning: exchange not recorded: %v\n", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
