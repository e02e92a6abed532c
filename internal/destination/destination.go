// Package destination resolves which webhook a notification goes to.
package destination

import (
	"strings"

	"embycord/internal/discord"
)

// Destination is one configured webhook target with its presentation settings.
type Destination struct {
	Name               string
	UserID             string
	Enabled            bool
	WebhookURL         string
	AvatarURL          string
	Username           string
	EmbedColor         string
	Mention            discord.Mention
	ServerNameOverride bool
	MediaAddedOverride bool
}

// Deliverable reports whether d can receive notifications.
func (d *Destination) Deliverable() bool {
	return d != nil && d.Enabled && strings.TrimSpace(d.WebhookURL) != ""
}

// Source yields the current destination list. Implementations must return a
// fresh snapshot on each call so configuration reloads take effect.
type Source interface {
	Destinations() []Destination
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []Destination

func (f SourceFunc) Destinations() []Destination { return f() }

// Static is a fixed Source, used mainly in tests.
type Static []Destination

func (s Static) Destinations() []Destination { return append([]Destination(nil), s...) }

// ForMediaAdded returns the first destination flagged for media-added events.
func ForMediaAdded(src Source) (*Destination, bool) {
	if src == nil {
		return nil, false
	}
	for _, d := range src.Destinations() {
		if d.MediaAddedOverride {
			d := d
			return &d, true
		}
	}
	return nil, false
}

// NormalizeUserID lowercases id and drops GUID hyphens, so the dashed and
// compact ("N") forms of an Emby user id compare equal.
func NormalizeUserID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// ForUser returns the first destination owned by userID.
func ForUser(src Source, userID string) (*Destination, bool) {
	userID = NormalizeUserID(userID)
	if src == nil || userID == "" {
		return nil, false
	}
	for _, d := range src.Destinations() {
		if NormalizeUserID(d.UserID) == userID {
			d := d
			return &d, true
		}
	}
	return nil, false
}
