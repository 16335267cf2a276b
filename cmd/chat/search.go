package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/voicechat/internal/search"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var roomID string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search messages, transcriptions and documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags, true)
			if err != nil {
				return err
			}
			agg, err := search.New(e.client, search.Config{
				MinLength: e.cfg.SearchMinLength,
				CacheSize: e.cfg.SearchCacheSize,
				CacheTTL:  e.cfg.SearchCacheTTL,
				Logger:    e.logger,
			})
			if err != nil {
				return err
			}
			results, err := agg.SearchNow(cmd.Context(), strings.Join(args, " "), roomID)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "limit results to one conversation")
	return cmd
}

