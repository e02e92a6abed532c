// Package format builds Discord messages from library items and direct
// notification requests. Every function here is pure: the caller supplies the
// destination, the server name and the clock reading.
package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"embycord/internal/destination"
	"embycord/internal/discord"
	"embycord/internal/library"
)

// FallbackServerName is shown when a destination does not override the name.
const FallbackServerName = "Emby Server"

const externalDetails = "External Details"

// Request is a direct notification raised by the host or an API caller.
type Request struct {
	UserID      string
	Name        string
	Description string
}

// ResolveServerName returns the name to display for dest.
func ResolveServerName(dest *destination.Destination, serverName string) string {
	if dest != nil && dest.ServerNameOverride && strings.TrimSpace(serverName) != "" {
		return serverName
	}
	return FallbackServerName
}

// Timestamp renders t the way Discord expects embed timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// MediaAdded builds the "new item" announcement.
func MediaAdded(item *library.Item, dest *destination.Destination, serverName string, now time.Time) discord.Message {
	name := ResolveServerName(dest, serverName)

	embed := discord.Embed{
		Title:       mediaAddedTitle(item, name),
		Description: item.Overview,
		Footer:      &discord.Footer{Text: "From " + name},
		Timestamp:   Timestamp(now),
	}
	if dest != nil {
		embed.Footer.IconURL = dest.AvatarURL
	}
	if item.HasPrimaryImage && item.PrimaryImagePath != "" {
		embed.Thumbnail = &discord.Thumbnail{URL: item.PrimaryImagePath}
	}
	embed.Fields = ProviderFields(item.ProviderIDs)

	return discord.Message{Embeds: []discord.Embed{embed}}
}

// mediaAddedTitle leaves out the year when the item has none.
func mediaAddedTitle(item *library.Item, serverName string) string {
	if item.ProductionYear <= 0 {
		return fmt.Sprintf("%s has been added to %s", item.Name, serverName)
	}
	return fmt.Sprintf("%s (%d) has been added to %s", item.Name, item.ProductionYear, serverName)
}

// ProviderFields renders one "External Details" field per recognized
// provider, ordered by provider key. Unknown providers are skipped.
func ProviderFields(ids map[string]string) []discord.Field {
	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []discord.Field
	for _, k := range keys {
		link, ok := ProviderLink(k, ids[k])
		if !ok {
			continue
		}
		fields = append(fields, discord.Field{Name: externalDetails, Value: link})
	}
	return fields
}

// ProviderLink maps a provider key and id to a markdown link.
func ProviderLink(provider, id string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "imdb":
		return fmt.Sprintf("[IMDb](https://www.imdb.com/title/%s/)", id), true
	case "tmdb":
		return fmt.Sprintf("[TMDb](https://www.themoviedb.org/movie/%s)", id), true
	default:
		return "", false
	}
}

// Direct builds a message for an explicit notification request.
// A malformed destination color yields discord.ErrInvalidColor.
func Direct(req Request, dest *destination.Destination, serverName string, now time.Time) (discord.Message, error) {
	if dest == nil {
		dest = &destination.Destination{}
	}

	embed := discord.Embed{
		Title:       req.Name,
		Description: req.Description,
		Timestamp:   Timestamp(now),
	}
	if c := strings.TrimSpace(dest.EmbedColor); c != "" {
		rgb, err := discord.ParseColor(c)
		if err != nil {
			return discord.Message{}, err
		}
		embed.Color = discord.Color(rgb)
	}

	footer := "From " + FallbackServerName
	if dest.ServerNameOverride && strings.TrimSpace(serverName) != "" {
		embed.Title = strings.ReplaceAll(embed.Title, FallbackServerName, serverName)
		footer = "From " + serverName
	}
	embed.Footer = &discord.Footer{Text: footer, IconURL: dest.AvatarURL}

	return discord.Message{
		AvatarURL: dest.AvatarURL,
		Username:  dest.Username,
		Content:   dest.Mention.Content(),
		Embeds:    []discord.Embed{embed},
	}, nil
}
