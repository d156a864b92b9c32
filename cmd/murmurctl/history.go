package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/bootstrap"
	"murmur/internal/domain"
)

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse delivered transcripts",
	}

	var page, size int
	list := &cobra.Command{
		Use:   "list",
		Short: "List transcripts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(func(s bootstrap.Stores) error {
				items, err := s.History.List(cmd.Context(), page, size)
				if err != nil {
					return err
				}
				return printHistory(cmd, opts, items)
			})
		},
	}
	list.Flags().IntVar(&page, "page", 0, "0-based page number")
	list.Flags().IntVar(&size, "size", 20, "items per page")

	var searchPage, searchSize int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search transcripts (case-insensitive substring)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withStores(func(s bootstrap.Stores) error {
				items, err := s.History.Search(cmd.Context(), query, searchPage, searchSize)
				if err != nil {
					return err
				}
				return printHistory(cmd, opts, items)
			})
		},
	}
	search.Flags().IntVar(&searchPage, "page", 0, "0-based page number")
	search.Flags().IntVar(&searchSize, "size", 20, "items per page")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(func(s bootstrap.Stores) error {
				if err := s.History.ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(list, search, clearCmd)
	return cmd
}

func printHistory(cmd *cobra.Command, opts *cliOptions, items []domain.TranscriptItem) error {
	out := cmd.OutOrStdout()
	if opts.json {
		if items == nil {
			items = []domain.TranscriptItem{}
		}
		return printJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No transcripts")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tLANG\tAPP\tTEXT")
	for _, item := range items {
		lang := item.InputLanguage.Code
		if item.OutputLanguage.Code != "" && item.OutputLanguage != item.InputLanguage {
			lang += "->" + item.OutputLanguage.Code
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			item.CreatedAt.Local().Format(time.DateTime),
			lang,
			item.AppName,
			oneLine(item.Text, 80),
		)
	}
	return tw.Flush()
}

func oneLine(text string, limit int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return string(runes[:limit-3]) + "..."
}
