package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacktop/unipost/internal/publish"
	"github.com/blacktop/unipost/internal/store"
)

var (
	historyLimit    int
	historyPlatform string
	historyFailed   bool
	historyJSON     bool
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent publish results",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
	cmd.Flags().StringVarP(&historyPlatform, "platform", "p", "", "Only show one platform")
	cmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show failures")
	cmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	filter := store.HistoryFilter{Limit: historyLimit, FailedOnly: historyFailed}
	if historyPlatform != "" {
		p, err := publish.ParsePlatform(historyPlatform)
		if err != nil {
			return err
		}
		filter.Platform = p
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.store.History(cmd.Context(), userFlag, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "no publish history")
		return nil
	}

	t := newTable("WHEN", "PLATFORM", "STATUS", "ATTEMPTS", "DETAIL")
	for _, r := range recs {
		status, detail := "ok", r.URL
		if !r.Success {
			status, detail = r.ErrorKind, r.Error
		}
		if detail == "" {
			detail = r.PostID
		}
		t.Row(r.PublishedAt.Local().Format(time.DateTime), r.Platform, status, strconv.Itoa(r.Attempts), detail)
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
