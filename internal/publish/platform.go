package publish

import (
	"fmt"
	"strings"
)

// Platform identifies one of the fixed publish destinations.
type Platform string

const (
	Twitter  Platform = "twitter"
	Mastodon Platform = "mastodon"
	Bluesky  Platform = "bluesky"
	Discord  Platform = "discord"
)

var platforms = []Platform{Twitter, Mastodon, Bluesky, Discord}

// Platforms returns every supported destination in canonical order.
func Platforms() []Platform {
	return append([]Platform(nil), platforms...)
}

// ParsePlatform maps a user supplied name onto a Platform.
func ParsePlatform(raw string) (Platform, error) {
	name := Platform(strings.ToLower(strings.TrimSpace(raw)))
	switch name {
	case Twitter, Mastodon, Bluesky, Discord:
		return name, nil
	case "x":
		return Twitter, nil
	}
	return "", fmt.Errorf("unsupported platform %q", raw)
}

// UsesWebhook reports whether the platform is reached through a caller supplied
// webhook URL instead of a stored per-user credential.
func (p Platform) UsesWebhook() bool { return p == Discord }

func (p Platform) String() string { return string(p) }
