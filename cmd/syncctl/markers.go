package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-commerce-erpsync/internal/app"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
)

type appLoader func(cmd *cobra.Command) (*app.App, error)

func markersCmd(appFor appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Read or remove idempotency markers",
		Long: `Markers record that a stage finished for an object, e.g.
  order-1001 so     -> the Sales Order name
  refund-55  si_return`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <object_key> <stage>",
		Short: "Show one marker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFor(cmd)
			if err != nil {
				return err
			}
			key := idempotency.Key{Object: args[0], Stage: args[1]}
			m, err := a.Markers.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("no marker %s", key)
			}
			out, _ := json.MarshalIndent(m, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	var yes bool
	del := &cobra.Command{
		Use:   "delete <object_key> <stage>",
		Short: "Remove a marker so the stage runs again",
		Long: `Remove a marker so the next job for the object re-runs the stage.
The stage still finds documents by external reference first, so this
does not create duplicates of documents that exist in the ERP.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := idempotency.Key{Object: args[0], Stage: args[1]}
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", key)
			}
			a, err := appFor(cmd)
			if err != nil {
				return err
			}
			if err := a.Markers.Delete(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")
	cmd.AddCommand(del)

	return cmd
}
