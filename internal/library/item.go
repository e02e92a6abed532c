// Package library talks to the Emby server: item lookups, the server name and
// live library-change events.
package library

import (
	"context"
	"errors"
)

// ErrNotFound means the server no longer knows the item.
var ErrNotFound = errors.New("library: item not found")

// ErrUnconfigured is returned by Unconfigured for every call.
var ErrUnconfigured = errors.New("library: emby server not configured")

// Item is the metadata snapshot the notification pipeline needs.
type Item struct {
	ID               string
	Name             string
	ProductionYear   int
	Overview         string
	HasPrimaryImage  bool
	PrimaryImagePath string
	ProviderIDs      map[string]string
	IsVirtual        bool
}

// HasMetadata reports whether external provider ids have been populated.
func (it *Item) HasMetadata() bool {
	return it != nil && len(it.ProviderIDs) > 0
}

// Library resolves items and server details.
type Library interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	ServerName(ctx context.Context) (string, error)
}

// Unconfigured stands in when no Emby URL is set. Lookups fail without being
// ErrNotFound, so queued items stay queued until a server is configured.
type Unconfigured struct{}

func (Unconfigured) GetItem(context.Context, string) (*Item, error) { return nil, ErrUnconfigured }
func (Unconfigured) ServerName(context.Context) (string, error)     { return "", ErrUnconfigured }
