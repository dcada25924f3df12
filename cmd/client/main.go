// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	hdcli insert docs doc-1 '{"title":"hello"}' --server http://localhost:8080
//	hdcli get docs doc-1
//	hdcli put docs doc-1 '{"title":"updated"}'
//	hdcli delete docs doc-1
//	hdcli list docs
//	hdcli collections
//	hdcli watch docs
//	hdcli crdt set docs doc-1 title '"hello"'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hyperdoc/internal/client"
	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
	"hyperdoc/internal/reconciler"
	"hyperdoc/internal/wsproto"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "hdcli",
		Short: "CLI client for a HyperDoc node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "HyperDoc server address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"request timeout")

	root.AddCommand(
		insertCmd(), getCmd(), putCmd(), patchCmd(), deleteCmd(),
		listCmd(), collectionsCmd(), syncCmd(), watchCmd(), crdtCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func parseFields(raw string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return fields, nil
}

// ─── insert / get / put / patch / delete ───────────────────────────────────

func insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <collection> <id> <json>",
		Short: "Insert a new document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[2])
			if err != nil {
				return err
			}
			c, cancel := ctx()
			defer cancel()
			resp, err := client.New(serverAddr, timeout).Insert(c, args[0], args[1], fields)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Retrieve a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			resp, err := client.New(serverAddr, timeout).Get(c, args[0], args[1])
			if err == client.ErrNotFound {
				fmt.Printf("%s/%s not found\n", args[0], args[1])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <collection> <id> <json>",
		Short: "Replace a document's top-level fields",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[2])
			if err != nil {
				return err
			}
			c, cancel := ctx()
			defer cancel()
			resp, err := client.New(serverAddr, timeout).Put(c, args[0], args[1], fields)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func patchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <collection> <id> <json>",
		Short: "Merge fields into a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[2])
			if err != nil {
				return err
			}
			c, cancel := ctx()
			defer cancel()
			resp, err := client.New(serverAddr, timeout).Patch(c, args[0], args[1], fields)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			if err := client.New(serverAddr, timeout).Delete(c, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

// ─── list / collections / sync ─────────────────────────────────────────────

func listCmd() *cobra.Command {
	var limit, skip int
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List documents in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			resp, err := client.New(serverAddr, timeout).ListCollection(c, args[0], limit, skip)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max documents to return (0 = no limit)")
	cmd.Flags().IntVar(&skip, "skip", 0, "documents to skip")
	return cmd
}

func collectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List every collection the node has ever written",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx()
			defer cancel()
			names, err := client.New(serverAddr, timeout).Collections(c)
			if err != nil {
				return err
			}
			prettyPrint(names)
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var sinceStr string
	cmd := &cobra.Command{
		Use:   "sync <collection>",
		Short: "Pull every sync-log change for a collection since a timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var since time.Time
			if sinceStr != "" {
				t, err := time.Parse(time.RFC3339Nano, sinceStr)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				since = t
			}
			c, cancel := ctx()
			defer cancel()
			entries, serverTime, err := client.New(serverAddr, timeout).Sync(c, args[0], since)
			if err != nil {
				return err
			}
			prettyPrint(map[string]any{"changes": entries, "server_time": serverTime})
			return nil
		},
	}
	cmd.Flags().StringVar(&sinceStr, "since", "", "RFC3339Nano timestamp (default: full history)")
	return cmd
}

// ─── watch ──────────────────────────────────────────────────────────────────

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <collection>",
		Short: "Subscribe to a collection and print every change as it arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("watching %q (ctrl-c to stop)\n", args[0])
			return client.New(serverAddr, 0).Watch(sigCtx, args[0], func(ev wsproto.SyncEvent) {
				prettyPrint(ev)
			})
		},
	}
}

// ─── crdt ───────────────────────────────────────────────────────────────────

func crdtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crdt",
		Short: "Fine-grained CRDT operations addressed by path",
	}
	cmd.AddCommand(crdtSetCmd(), crdtListInsertCmd(), crdtListDeleteCmd())
	return cmd
}

// crdtSetCmd sends a single map_set op via batch_sync — built with a
// throwaway local document.Document so the op carries the same
// OpID/Clock/NodeID shape a real reconciler-embedded client produces,
// rather than hand-assembling an document.Op in the CLI.
func crdtSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <collection> <id> <field> <json-value>",
		Short: "Set one top-level field via a CRDT map_set op",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[3]), &value); err != nil {
				return fmt.Errorf("invalid JSON value: %w", err)
			}
			d := document.New("cli")
			op, err := d.Set([]string{args[2]}, crdt.FromNative(value))
			if err != nil {
				return err
			}
			return sendSingleOp(args[0], args[1], op)
		},
	}
}

func crdtListInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-insert <collection> <id> <field> <index> <json-value>",
		Short: "Insert an element into a list field via RGA insert",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			var index int
			if _, err := fmt.Sscanf(args[3], "%d", &index); err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}
			var value any
			if err := json.Unmarshal([]byte(args[4]), &value); err != nil {
				return fmt.Errorf("invalid JSON value: %w", err)
			}
			d := document.New("cli")
			op, err := d.ListInsert([]string{args[2]}, index, crdt.FromNative(value))
			if err != nil {
				return err
			}
			return sendSingleOp(args[0], args[1], op)
		},
	}
}

func crdtListDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-delete <collection> <id> <field> <index>",
		Short: "Tombstone an element in a list field",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var index int
			if _, err := fmt.Sscanf(args[3], "%d", &index); err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}
			d := document.New("cli")
			op, err := d.ListDelete([]string{args[2]}, index)
			if err != nil {
				return err
			}
			return sendSingleOp(args[0], args[1], op)
		},
	}
}

func sendSingleOp(collection, id string, op document.Op) error {
	c, cancel := ctx()
	defer cancel()
	ops := []reconciler.WireOp{{Collection: collection, DocID: id, Op: op}}
	results, err := client.New(serverAddr, timeout).BatchSync(c, ops)
	if err != nil {
		return err
	}
	prettyPrint(results)
	return nil
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
