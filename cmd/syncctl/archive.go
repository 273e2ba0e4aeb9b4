package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-commerce-erpsync/internal/app"
)

func archiveCmd(appFor appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived webhook deliveries",
	}

	var bodyOnly bool
	show := &cobra.Command{
		Use:   "show <ref>",
		Short: "Print an archived delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFor(cmd)
			if err != nil {
				return err
			}
			if a.Sink == nil {
				return errors.New("no archive configured")
			}
			rec, err := a.Sink.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if bodyOnly {
				body, err := rec.Body()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(body))
				return nil
			}
			b, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Fprintln(out, string(b))
			return nil
		},
	}
	show.Flags().BoolVarP(&bodyOnly, "body", "b", false, "print only the decoded request body")
	cmd.AddCommand(show)
	return cmd
}

func replayCmd(appFor appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <ref>",
		Short: "Re-enqueue an archived delivery on the configured queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFor(cmd)
			if err != nil {
				return err
			}
			if a.Config.Queue.Backend != app.BackendSQS {
				return errors.New("replay from the CLI needs queue.backend=sqs; use POST /admin/replay against a local server")
			}
			svc, err := a.WebhookService()
			if err != nil {
				return err
			}
			env, err := svc.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if env == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no job to run\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s order_id=%d\n", env.Type, env.OrderID)
			return nil
		},
	}
}
