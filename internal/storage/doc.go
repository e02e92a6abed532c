// Package storage keeps an optional audit trail of webhook deliveries.
//
// The pending queue is never persisted; only finished dispatch attempts are
// recorded, for the /api/v1/deliveries endpoint and operator forensics.
package storage
