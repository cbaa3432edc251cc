package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/maruel/docstore/internal/conversation"
	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/docstore/internal/history"
)

var errHistoryDisabled = errors.New("history is disabled; pass -history or set history.enabled")

type app struct {
	store *docstore.Store
	conv  *conversation.Service
	hist  *history.Recorder

	stdin  io.Reader
	stdout io.Writer
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "get":
		return a.get(ctx, args)
	case "put":
		return a.put(ctx, args)
	case "set":
		return a.set(ctx, args)
	case "del":
		return a.del(ctx, args)
	case "ls":
		return a.ls(args)
	case "watch":
		return a.watch(ctx, args)
	case "log":
		return a.log(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "schema":
		return a.schema(args)
	case "conv":
		return a.convCmd(ctx, args)
	case "user":
		return a.user(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func wantArgs(cmd string, args []string, n int, names string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s %s", cmd, names)
	}
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	if err := wantArgs("get", args, 1, "<name>"); err != nil {
		return err
	}
	doc, err := a.store.Read(ctx, args[0])
	if err != nil {
		return err
	}
	b, err := docstore.Encode(doc)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(b)
	return err
}

func (a *app) put(ctx context.Context, args []string) error {
	if err := wantArgs("put", args, 1, "<name>"); err != nil {
		return err
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	doc, err := docstore.Decode(args[0], data)
	if err != nil {
		return err
	}
	return a.store.Write(ctx, args[0], doc)
}

func (a *app) set(ctx context.Context, args []string) error {
	if err := wantArgs("set", args, 3, "<name> <key> <json>"); err != nil {
		return err
	}
	v, err := parseValue(args[2])
	if err != nil {
		return err
	}
	_, err = a.store.Update(ctx, args[0], func(doc docstore.Document) (docstore.Document, error) {
		doc[args[1]] = v
		return doc, nil
	})
	return err
}

func (a *app) del(ctx context.Context, args []string) error {
	if err := wantArgs("del", args, 2, "<name> <key>"); err != nil {
		return err
	}
	_, err := a.store.Update(ctx, args[0], func(doc docstore.Document) (docstore.Document, error) {
		delete(doc, args[1])
		return doc, nil
	})
	return err
}

func (a *app) ls(args []string) error {
	if err := wantArgs("ls", args, 0, ""); err != nil {
		return err
	}
	names, err := a.store.Names()
	if err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintln(a.stdout, n); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	ch, err := a.store.Watch(ctx, args...)
	if err != nil {
		return err
	}
	for ev := range ch {
		if ev.Op == docstore.OpError {
			fmt.Fprintf(a.stdout, "%s: %v\n", ev.Op, ev.Err)
			continue
		}
		fmt.Fprintf(a.stdout, "%s %s\n", ev.Op, ev.Name)
	}
	return ctx.Err()
}

func (a *app) log(ctx context.Context, args []string) error {
	if err := wantArgs("log", args, 1, "<name>"); err != nil {
		return err
	}
	if a.hist == nil {
		return errHistoryDisabled
	}
	if err := docstore.ValidateName(args[0]); err != nil {
		return err
	}
	commits, err := a.hist.Log(ctx, args[0], 0)
	if err != nil {
		return err
	}
	for _, c := range commits {
		fmt.Fprintf(a.stdout, "%s %s %s\n", c.Hash[:12], c.When.Format("2006-01-02 15:04:05"), c.Message)
	}
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	if err := wantArgs("show", args, 2, "<hash> <name>"); err != nil {
		return err
	}
	if a.hist == nil {
		return errHistoryDisabled
	}
	if err := docstore.ValidateName(args[1]); err != nil {
		return err
	}
	b, err := a.hist.At(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(b)
	return err
}

func (a *app) schema(args []string) error {
	docs := args
	if len(docs) == 0 {
		docs = conversation.Documents()
	}
	out := map[string]any{}
	for _, d := range docs {
		s, err := conversation.Schema(d)
		if err != nil {
			return err
		}
		out[d] = s
	}
	if len(args) == 1 {
		return printJSON(a.stdout, out[args[0]])
	}
	return printJSON(a.stdout, out)
}

func (a *app) convCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: conv new|list|get|say|rm")
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "new":
		fs := flag.NewFlagSet("conv new", flag.ContinueOnError)
		userID := fs.String("user", "", "Owner of the conversation")
		projectID := fs.String("project", "", "Project of the conversation")
		if err := fs.Parse(args); err != nil {
			return err
		}
		c, err := a.conv.Create(ctx, *userID, *projectID, strings.Join(fs.Args(), " "))
		if err != nil {
			return err
		}
		return printJSON(a.stdout, c)
	case "list":
		fs := flag.NewFlagSet("conv list", flag.ContinueOnError)
		userID := fs.String("user", "", "Only list conversations of this user")
		if err := fs.Parse(args); err != nil {
			return err
		}
		l, err := a.conv.List(ctx, *userID)
		if err != nil {
			return err
		}
		for _, c := range l {
			fmt.Fprintf(a.stdout, "%s %s %d %s\n", c.ID, c.UpdatedAt.Format("2006-01-02 15:04:05"), len(c.Messages), c.Title)
		}
		return nil
	case "get":
		if err := wantArgs("conv get", args, 1, "<id>"); err != nil {
			return err
		}
		c, err := a.conv.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("conversation %q: %w", args[0], conversation.ErrNotFound)
		}
		return printJSON(a.stdout, c)
	case "say":
		if len(args) < 3 {
			return errors.New("usage: conv say <id> <role> <content...>")
		}
		m, err := a.conv.AddMessage(ctx, args[0], strings.Join(args[2:], " "), args[1], nil)
		if err != nil {
			return err
		}
		return printJSON(a.stdout, m)
	case "rm":
		if err := wantArgs("conv rm", args, 1, "<id>"); err != nil {
			return err
		}
		ok, err := a.conv.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("conversation %q: %w", args[0], conversation.ErrNotFound)
		}
		return nil
	default:
		return fmt.Errorf("unknown conv command %q", sub)
	}
}

func (a *app) user(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: user <id> [key=value...]")
	}
	var attrs map[string]any
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid attribute %q, expected key=value", kv)
		}
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrs[k] = v
	}
	u, err := a.conv.EnsureUser(ctx, args[0], attrs)
	if err != nil {
		return err
	}
	return printJSON(a.stdout, u)
}

// parseValue decodes exactly one JSON value, keeping numbers exact.
func parseValue(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON value: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON value: trailing data after %q", s)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
