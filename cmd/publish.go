package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
)

var (
	messageFlag  string
	contentFlags map[string]string
	imagePaths   []string
	imageAlts    []string
	targetsFlag  []string
	webhookFlag  string
	dryRun       bool
	jsonOutput   bool
	skipHistory  bool
)

const defaultAltText = "Image attached via unipost"

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish [message]",
		Short: "Publish a post to the selected platforms",
		Long: "publish sends the same update (or a per-platform variant) to every target. " +
			"Provide the message as an argument, with --message, or on stdin.",
		RunE: runPublish,
		Example: `  unipost publish --message "hello world" --image ./shot.png
  unipost publish "Ship it!" --target twitter --target mastodon
  unipost publish "v2 is out" --content mastodon="v2 is out, full notes at https://example.com"
  echo "Release shipped" | unipost publish --target all --webhook https://discord.com/api/webhooks/...`,
	}

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringToStringVar(&contentFlags, "content", nil, "Per-platform message override (platform=text)")
	cmd.Flags().StringArrayVar(&imagePaths, "image", nil, "Path to an image to attach (repeatable)")
	cmd.Flags().StringArrayVar(&imageAlts, "alt-text", nil, "Alternative text for the image at the same position")
	cmd.Flags().StringSliceVarP(&targetsFlag, "target", "t", nil, "Targets to post to (twitter, mastodon, bluesky, discord, or all)")
	cmd.Flags().StringVar(&webhookFlag, "webhook", os.Getenv("UNIPOST_DISCORD_WEBHOOK"), "Discord webhook URL")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print actions without posting")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&skipHistory, "no-history", false, "Do not record results in the history table")
	cmd.Flags().SortFlags = false

	return cmd
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	message, err := resolveMessage(cmd, args, len(contentFlags) > 0)
	if err != nil {
		return err
	}

	targets, err := normalizeTargets(targetsFlag, enabledPlatforms(cfg))
	if err != nil {
		return err
	}

	job, err := buildJob(userFlag, targets, message, contentFlags, imagePaths, imageAlts, webhookFlag)
	if err != nil {
		return err
	}

	if dryRun {
		return simulate(cmd.OutOrStdout(), job, cfg.Limits())
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	results := a.orchestrator().PublishToAll(ctx, job)
	if !skipHistory {
		if _, err := a.store.RecordResults(ctx, job.UserID, results); err != nil {
			logutil.Warnf("failed to record history: %v", err)
		}
	}

	summary := publish.Summarize(results)
	if err := printResults(cmd.OutOrStdout(), results, summary, jsonOutput); err != nil {
		return err
	}

	if summary.FailureCount > 0 {
		var errs []error
		for _, r := range summary.Failed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Platform, r.Error))
		}
		return errors.Join(errs...)
	}
	return nil
}

func resolveMessage(cmd *cobra.Command, args []string, optional bool) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if (info.Mode() & os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			message = strings.TrimSpace(string(data))
		}
	} else if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}

	if message == "" && !optional {
		return "", errors.New("message is required")
	}

	return message, nil
}

// normalizeTargets parses target names in the order given, dropping
// duplicates. No targets, or "all", selects every enabled platform.
func normalizeTargets(values []string, enabled []publish.Platform) ([]publish.Platform, error) {
	if len(values) == 0 {
		if len(enabled) == 0 {
			return nil, errors.New("no platforms are enabled")
		}
		return append([]publish.Platform(nil), enabled...), nil
	}

	result := make([]publish.Platform, 0, len(values))
	seen := map[publish.Platform]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return normalizeTargets(nil, enabled)
		}
		p, err := publish.ParsePlatform(raw)
		if err != nil {
			return nil, fmt.Errorf("unsupported target %q", raw)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}

	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}

	return result, nil
}

func buildJob(user string, targets []publish.Platform, message string, overrides map[string]string, images, alts []string, webhook string) (publish.Job, error) {
	job := publish.Job{
		UserID:         user,
		Platforms:      targets,
		DefaultContent: message,
	}

	if len(overrides) > 0 {
		job.Content = make(map[publish.Platform]string, len(overrides))
		for name, text := range overrides {
			p, err := publish.ParsePlatform(name)
			if err != nil {
				return publish.Job{}, fmt.Errorf("--content: %w", err)
			}
			job.Content[p] = strings.TrimSpace(text)
		}
	}

	if len(alts) > len(images) {
		return publish.Job{}, errors.New("more --alt-text values than --image values")
	}
	for i, path := range images {
		alt := ""
		if i < len(alts) {
			alt = strings.TrimSpace(alts[i])
		}
		if alt == "" {
			alt = defaultAltText
		}
		job.Media = append(job.Media, publish.Media{Path: path, AltText: alt})
	}

	if webhook = strings.TrimSpace(webhook); webhook != "" {
		job.Webhooks = map[publish.Platform]string{publish.Discord: webhook}
	}
	return job, nil
}

func simulate(out io.Writer, job publish.Job, limits publish.Limits) error {
	var errs []error
	for _, p := range job.Platforms {
		content := job.ContentFor(p)
		if err := limits.Validate(p, content, job.Media); err != nil {
			fmt.Fprintf(out, "[dry-run] %s would be rejected: %v\n", p, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "[dry-run] would post to %s: %q\n", p, content)
	}
	for _, m := range job.Media {
		fmt.Fprintf(out, "[dry-run] image: %s (alt: %q)\n", m.Path, m.AltText)
	}
	return errors.Join(errs...)
}

func printResults(out io.Writer, results []publish.Result, summary publish.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Results []publish.Result `json:"results"`
			Summary string           `json:"summary"`
		}{results, summary.Text})
	}
	for _, r := range results {
		if r.Success {
			line := fmt.Sprintf("posted to %s", r.Platform)
			if r.URL != "" {
				line += ": " + r.URL
			}
			if r.Attempts > 1 {
				line += fmt.Sprintf(" (after %d attempts)", r.Attempts)
			}
			fmt.Fprintln(out, line)
			continue
		}
		fmt.Fprintf(out, "failed to post to %s [%s]: %s\n", r.Platform, r.Kind, r.Error)
	}
	fmt.Fprintln(out, summary.Text)
	return nil
}
