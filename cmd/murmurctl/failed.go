package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/bootstrap"
	"murmur/internal/domain"
)

func newFailedCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect, export, retry or delete failed recordings",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List failed recordings, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(func(s bootstrap.Stores) error {
				records, err := s.Failed.List(cmd.Context())
				if err != nil {
					return err
				}
				return printFailed(cmd, opts, records)
			})
		},
	}

	var all bool
	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a failed recording and its audio",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of <id> or --all")
			}
			return withStores(func(s bootstrap.Stores) error {
				if all {
					if err := s.Failed.DeleteAll(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "All failed recordings deleted")
					return nil
				}
				if err := s.Failed.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
	del.Flags().BoolVar(&all, "all", false, "delete every failed recording")

	var paste bool
	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Reprocess a failed recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd, args[0], !paste)
		},
	}
	retry.Flags().BoolVar(&paste, "paste", false, "paste the result into the focused window instead of copying it")

	path := &cobra.Command{
		Use:   "path <id>",
		Short: "Print the audio file of a failed recording for inspection or export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(s bootstrap.Stores) error {
				p, err := s.Failed.Path(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": args[0], "path": p})
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	cmd.AddCommand(list, retry, path, del)
	return cmd
}

func runRetry(cmd *cobra.Command, id string, clipboardOnly bool) error {
	sink := &printSink{out: cmd.OutOrStdout()}
	services, err := bootstrap.Build(sink, bootstrap.Options{DisableNotifications: true})
	if err != nil {
		return err
	}
	defer services.Close()

	prefs := services.Preferences.Get()
	prefs.ClipboardOnly = clipboardOnly
	services.Preferences.Set(prefs)

	if err := services.Controller.RetryFailedRecording(cmd.Context(), id); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return nil
}

func printFailed(cmd *cobra.Command, opts *cliOptions, records []domain.FailedRecording) error {
	out := cmd.OutOrStdout()
	if opts.json {
		if records == nil {
			records = []domain.FailedRecording{}
		}
		return printJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No failed recordings")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tDURATION\tRETRIES\tERROR")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			rec.ID,
			rec.UpdatedAt.Local().Format(time.DateTime),
			(time.Duration(rec.DurationSeconds * float64(time.Second))).Round(100*time.Millisecond),
			rec.RetryCount,
			oneLine(rec.LastError, 60),
		)
	}
	return tw.Flush()
}
