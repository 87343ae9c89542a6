// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command navctl browses a codenav server from the terminal.
//
// Usage:
//
//	navctl open https://github.com/example/project
//	export CODENAV_SESSION=<id printed by open>
//	navctl select pkg/mod.py
//	navctl expand 'pkg/mod.py::Foo.bar'
//	navctl goto pkg/other.py 42
//	navctl show --around 5
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codenav/services/codenav"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/session"
)

const (
	defaultServer  = "http://127.0.0.1:8080"
	defaultTimeout = 60 * time.Second
)

// cliOptions holds the persistent flag values.
type cliOptions struct {
	server    string
	sessionID string
	jsonOut   bool
	timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:          "navctl",
		Short:        "Browse code symbols through a codenav server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("CODENAV_SERVER", defaultServer), "codenav server URL (env CODENAV_SERVER)")
	root.PersistentFlags().StringVarP(&opts.sessionID, "session", "s", os.Getenv("CODENAV_SESSION"), "Session id (env CODENAV_SESSION)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print raw JSON responses")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "Request timeout")

	root.AddCommand(
		newOpenCmd(opts),
		newSessionsCmd(opts),
		newTreeCmd(opts),
		newToggleCmd(opts),
		newSelectCmd(opts),
		newStructureCmd(opts),
		newExpandCmd(opts),
		newGotoCmd(opts),
		newShowCmd(opts),
		newCloseCmd(opts),
	)
	return root
}

// env bundles what every command needs.
type env struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *apiClient
	out    io.Writer
	st     styles
	opts   *cliOptions
}

func newEnv(cmd *cobra.Command, opts *cliOptions, needSession bool) (*env, error) {
	if needSession && opts.sessionID == "" {
		return nil, errors.New("no session: pass --session or set CODENAV_SESSION")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	out := cmd.OutOrStdout()
	return &env{
		ctx:    ctx,
		cancel: cancel,
		client: newAPIClient(opts.server, opts.timeout),
		out:    out,
		st:     newStyles(colorEnabled(out)),
		opts:   opts,
	}, nil
}

// emit prints v as JSON when --json is set and reports whether it did.
func (e *env) emit(v any) (bool, error) {
	if !e.opts.jsonOut {
		return false, nil
	}
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func newOpenCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <repo-url>",
		Short: "Ingest a repository and start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.cancel()

			resp, err := e.client.Open(e.ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := e.emit(resp); done {
				return err
			}
			fmt.Fprintf(e.out, "session %s (project %s): %d files, %d folders\n",
				resp.SessionID, resp.ProjectID, resp.Files, resp.Folders)
			fmt.Fprintf(e.out, "export CODENAV_SESSION=%s\n", resp.SessionID)
			return nil
		},
	}
}

func newSessionsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List open sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.cancel()

			resp, err := e.client.List(e.ctx)
			if err != nil {
				return err
			}
			if done, err := e.emit(resp); done {
				return err
			}
			rows := make([][]string, 0, len(resp.Sessions))
			for _, s := range resp.Sessions {
				rows = append(rows, []string{s.ID, s.ProjectID, s.RepoURL, string(s.Indexing.State), s.LastUsed.Format(time.RFC3339)})
			}
			fmt.Fprintln(e.out, newTable(e.st, []string{"ID", "PROJECT", "REPOSITORY", "INDEXING", "LAST USED"}, rows))
			return nil
		},
	}
}

func newTreeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the file tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			resp, err := e.client.Tree(e.ctx, opts.sessionID)
			if err != nil {
				return err
			}
			if done, err := e.emit(resp); done {
				return err
			}
			fmt.Fprintln(e.out, renderTree(".", resp.Rows, e.st))
			return nil
		},
	}
}

func newToggleCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <folder>",
		Short: "Expand or collapse a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			resp, err := e.client.Toggle(e.ctx, opts.sessionID, args[0])
			if err != nil {
				return err
			}
			if done, err := e.emit(resp); done {
				return err
			}
			state := "collapsed"
			if resp.Open {
				state = "expanded"
			}
			fmt.Fprintf(e.out, "%s %s\n", resp.Path, state)
			return nil
		},
	}
}

func newSelectCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select <file>",
		Short: "Open a file in the viewer and structure panel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			up, err := e.client.Select(e.ctx, opts.sessionID, args[0])
			if err != nil {
				return err
			}
			return e.printUpdate(up, 0)
		},
	}
}

func newStructureCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "structure",
		Short: "Show classes, methods, functions and imports of the open file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			m, err := e.client.Structure(e.ctx, opts.sessionID)
			if err != nil {
				return err
			}
			if done, err := e.emit(m); done {
				return err
			}
			fmt.Fprint(e.out, renderStructure(m, e.st))
			return nil
		},
	}
}

func newExpandCmd(opts *cliOptions) *cobra.Command {
	var retry, noWait bool
	cmd := &cobra.Command{
		Use:   "expand <identity>",
		Short: "Show callers and callees of a symbol",
		Long: `Show callers and callees of a symbol.

Identities have the form <file>::<Class>.<method>, <file>::<Class> or
<file>::<function>, as printed by the structure command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			id, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			exp, err := e.client.Expand(e.ctx, opts.sessionID, codenav.ExpandRequest{
				Identity: id,
				Wait:     !noWait,
				Retry:    retry,
			})
			if err != nil {
				return err
			}
			if done, err := e.emit(exp); done {
				return err
			}
			fmt.Fprint(e.out, renderExpansion(exp, e.st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "Re-attempt a failed expansion")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return the current state without waiting")
	return cmd
}

func newGotoCmd(opts *cliOptions) *cobra.Command {
	var around int
	cmd := &cobra.Command{
		Use:   "goto [file] <line>",
		Short: "Jump to a line, in another file or the open one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			line, err := strconv.Atoi(args[len(args)-1])
			if err != nil {
				return fmt.Errorf("line must be a number: %w", err)
			}

			var up session.Update
			if len(args) == 2 {
				up, err = e.client.NavigateRef(e.ctx, opts.sessionID, codenav.RefRequest{
					FilePath:   args[0],
					LineNumber: line,
				})
			} else {
				up, err = e.client.NavigateSymbol(e.ctx, opts.sessionID, codenav.SymbolRequest{Line: line})
			}
			if err != nil {
				return err
			}
			if !up.Navigated {
				return errors.New("nothing to navigate to: open a file first or give a file and a line")
			}
			if err := e.printUpdate(up, around); err != nil {
				return err
			}
			_, err = e.client.Ack(e.ctx, opts.sessionID, up.Selection.Seq)
			return err
		},
	}
	cmd.Flags().IntVar(&around, "around", 5, "Lines of context around the target (0 prints the whole file)")
	return cmd
}

func newShowCmd(opts *cliOptions) *cobra.Command {
	var around int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the viewer content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			v, err := e.client.Viewer(e.ctx, opts.sessionID)
			if err != nil {
				return err
			}
			if done, err := e.emit(v); done {
				return err
			}
			fmt.Fprint(e.out, renderView(v, around, e.st))
			if v.ScrollLine != nil {
				_, err = e.client.Ack(e.ctx, opts.sessionID, v.Seq)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&around, "around", 0, "Lines of context around the scroll target (0 prints the whole file)")
	return cmd
}

func newCloseCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Dispose the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.cancel()

			if err := e.client.Close(e.ctx, opts.sessionID); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "session %s closed\n", opts.sessionID)
			return nil
		},
	}
}

func (e *env) printUpdate(up session.Update, around int) error {
	if done, err := e.emit(up); done {
		return err
	}
	fmt.Fprint(e.out, renderView(up.View, around, e.st))
	fmt.Fprintln(e.out)
	fmt.Fprint(e.out, renderStructure(up.Structure, e.st))
	return nil
}
