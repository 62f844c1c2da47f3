package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blacktop/unipost/internal/publish"
)

var (
	credType       string
	credToken      string
	credRefresh    string
	credIdentifier string
	credEndpoint   string
	credExpiresIn  time.Duration
	credLegacy     bool
)

func newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage stored platform credentials",
	}

	set := &cobra.Command{
		Use:   "set <platform>",
		Short: "Store a credential for a platform",
		Long: "set stores an OAuth access token or an API key (app password) for the user. " +
			"When --token is omitted the secret is read from the terminal without echo, or from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: runCredentialsSet,
		Example: `  unipost credentials set mastodon --endpoint https://fosstodon.org
  unipost credentials set bluesky --type api_key --identifier me.bsky.social
  echo "$X_TOKEN" | unipost credentials set twitter --expires-in 2h`,
	}
	set.Flags().StringVar(&credType, "type", string(publish.CredentialOAuth), "Credential type (oauth or api_key)")
	set.Flags().StringVar(&credToken, "token", "", "Access token or API key")
	set.Flags().StringVar(&credRefresh, "refresh-token", "", "OAuth refresh token")
	set.Flags().StringVar(&credIdentifier, "identifier", "", "Account identifier for API keys (Bluesky handle)")
	set.Flags().StringVar(&credEndpoint, "endpoint", "", "Instance base URL when not the default server")
	set.Flags().DurationVar(&credExpiresIn, "expires-in", 0, "Token lifetime (0 for no expiry)")
	set.Flags().BoolVar(&credLegacy, "legacy", false, "Store in the legacy OAuth token table")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials (secrets are not shown)",
		Args:  cobra.NoArgs,
		RunE:  runCredentialsList,
	}

	del := &cobra.Command{
		Use:   "delete <platform>",
		Short: "Remove a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE:  runCredentialsDelete,
	}

	cmd.AddCommand(set, list, del)
	return cmd
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := publish.ParsePlatform(args[0])
	if err != nil {
		return err
	}
	if p.UsesWebhook() {
		return fmt.Errorf("%s uses a webhook URL per publish, pass it with --webhook", p)
	}

	secret := strings.TrimSpace(credToken)
	if secret == "" {
		if secret, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("%s secret: ", p)); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New("a token is required")
	}

	var expiresAt *time.Time
	if credExpiresIn > 0 {
		t := time.Now().Add(credExpiresIn).UTC()
		expiresAt = &t
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if credLegacy {
		if err := a.store.SaveLegacyToken(ctx, userFlag, p, publish.LegacyToken{AccessToken: secret, ExpiresAt: expiresAt}); err != nil {
			return fmt.Errorf("save legacy token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored legacy %s token for %s\n", p, userFlag)
		return nil
	}

	stored, err := storedCredential(publish.CredentialType(credType), secret, expiresAt)
	if err != nil {
		return err
	}
	if err := a.store.SaveCredential(ctx, userFlag, p, stored); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, userFlag, p); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s %s credential for %s\n", p, stored.Type, userFlag)
	return nil
}

func storedCredential(typ publish.CredentialType, secret string, expiresAt *time.Time) (publish.StoredCredential, error) {
	fields := map[string]string{}
	switch typ {
	case publish.CredentialOAuth:
		fields[publish.FieldAccessToken] = secret
		if credRefresh != "" {
			fields[publish.FieldRefreshToken] = credRefresh
		}
		if expiresAt != nil {
			fields[publish.FieldExpiresAt] = expiresAt.Format(time.RFC3339)
		}
	case publish.CredentialAPIKey:
		fields[publish.FieldAPIKey] = secret
		if credIdentifier != "" {
			fields[publish.FieldIdentifier] = credIdentifier
		}
	default:
		return publish.StoredCredential{}, fmt.Errorf("unsupported credential type %q (want oauth or api_key)", typ)
	}
	if credEndpoint != "" {
		fields[publish.FieldEndpoint] = strings.TrimRight(credEndpoint, "/")
	}
	return publish.StoredCredential{Type: typ, Fields: fields}, nil
}

// readSecret prompts without echo on a terminal, otherwise reads one line.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runCredentialsList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.store.ListCredentials(cmd.Context(), userFlag)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no credentials stored for %s\n", userFlag)
		return nil
	}

	t := newTable("PLATFORM", "TYPE", "ENDPOINT", "EXPIRES", "UPDATED")
	for _, r := range recs {
		expires := r.Fields[publish.FieldExpiresAt]
		if expires == "" {
			expires = "-"
		}
		endpoint := r.Fields[publish.FieldEndpoint]
		if endpoint == "" {
			endpoint = "-"
		}
		t.Row(r.Platform, r.Type, endpoint, expires, r.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := publish.ParsePlatform(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteCredential(ctx, userFlag, p); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, userFlag, p); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s credential for %s\n", p, userFlag)
	return nil
}

func newTable(headers ...string) *table.Table {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}
