package main

import (
	"fmt"

	"clothscan/pkg/record"
	"clothscan/pkg/storage"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <namespace> [id]",
	Short: "Print a stored record, or list the ids of a namespace",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ns := args[0]
	if err := storage.ValidateNamespace(ns); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		n := 0
		for r, err := range store.Scan(ctx, ns) {
			if err != nil {
				ui.PrintWarning(err.Error())
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d media\n", r.ID, r.Timestamp.Format("2006-01-02 15:04:05"), len(r.Media))
			n++
		}
		if n == 0 {
			return fmt.Errorf("namespace %s has no records", ns)
		}
		return nil
	}

	r, err := store.Load(ctx, ns, args[1])
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("record %s not found in %s", args[1], ns)
	}
	data, err := record.Encode(r)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}
