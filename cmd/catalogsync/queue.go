package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/catalogsync/internal/syncqueue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued playlist edits",
	}
	cmd.AddCommand(queueListCmd(), queueRetryCmd(), queuePruneCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			ops, err := e.db.Operations(ctx, syncqueue.Status(status))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPLAYLIST\tPROVIDER\tTYPE\tSTATUS\tRETRIES\tCREATED\tERROR")
			for _, op := range ops {
				errMsg := ""
				if op.ErrorMessage != nil {
					errMsg = *op.ErrorMessage
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					op.ID, op.PlaylistID, op.ProviderType, op.OperationType, op.Status,
					op.RetryCount, op.MaxRetries, op.CreatedAt.Format(time.RFC3339), errMsg)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list operations in this status (pending, in_flight, failed, done)")
	return cmd
}

func queueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [operation-id...]",
		Short: "Re-queue failed operations",
		Long:  `Gives failed operations a fresh retry budget. Without ids every failed operation is re-queued. Re-run an import first when the failure was a conflict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			var ops []syncqueue.Operation
			if len(args) == 0 {
				if ops, err = e.db.Operations(ctx, syncqueue.StatusFailed); err != nil {
					return err
				}
			}
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid operation id %q", arg)
				}
				op, err := e.db.Operation(ctx, id)
				if err != nil {
					return err
				}
				if op == nil {
					return fmt.Errorf("operation %d not found", id)
				}
				ops = append(ops, *op)
			}

			retried := 0
			for i := range ops {
				if err := ops[i].Reset(); err != nil {
					fmt.Fprintf(os.Stderr, "operation %d: %v\n", ops[i].ID, err)
					continue
				}
				if err := e.db.SaveOperation(ctx, &ops[i]); err != nil {
					return err
				}
				retried++
			}
			fmt.Printf("Re-queued %d operation(s).\n", retried)
			return nil
		},
	}
}

func queuePruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.db.PruneDone(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d operation(s).\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "only prune operations created before this age")
	return cmd
}
