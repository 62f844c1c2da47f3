package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blacktop/unipost/internal/assist"
)

var draftPost bool

func newDraftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft <prompt>",
		Short: "Draft post text with an LLM",
		Long: "draft asks the configured providers (in order) to write a post. When a provider fails " +
			"the next one is tried and the failure is reported.",
		Args: cobra.MinimumNArgs(1),
		RunE: runDraft,
		Example: `  unipost draft "announce the v2 release, mention the new retry policy"
  unipost draft "summarize today's changelog" --publish --target mastodon`,
	}
	cmd.Flags().BoolVar(&draftPost, "publish", false, "Publish the draft to --target after generating it")
	cmd.Flags().StringSliceVarP(&targetsFlag, "target", "t", nil, "Targets for --publish")
	return cmd
}

func runDraft(cmd *cobra.Command, args []string) error {
	router, err := assist.FromConfig(cfg.Assist, cfg.AssistTimeout())
	if err != nil {
		return err
	}

	draft, err := router.Generate(cmd.Context(), strings.Join(args, " "))
	errOut := cmd.ErrOrStderr()
	for _, f := range draft.Failures {
		fmt.Fprintf(errOut, "provider %s failed: %s\n", f.Provider, f.Error)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "drafted by %s\n", draft.Provider)
	fmt.Fprintln(cmd.OutOrStdout(), draft.Text)

	if !draftPost {
		return nil
	}
	messageFlag = draft.Text
	return runPublish(cmd, nil)
}
