// Package database holds helpers shared by SQL-backed repositories.
package database

import (
	"context"
	"time"
)

// Default timeouts for repository calls.
const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultBulkTimeout  = 30 * time.Second
)

// Timeouts bounds how long individual store operations may take.
type Timeouts struct {
	Query time.Duration
	Write time.Duration
	Bulk  time.Duration
}

// DefaultTimeouts returns the package defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Query: DefaultQueryTimeout,
		Write: DefaultWriteTimeout,
		Bulk:  DefaultBulkTimeout,
	}
}

// QueryContext derives a context for SELECTs.
func (t Timeouts) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, t.Query, DefaultQueryTimeout)
}

// WriteContext derives a context for INSERT/UPDATE/DELETE.
func (t Timeouts) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, t.Write, DefaultWriteTimeout)
}

// BulkContext derives a context for migrations and batch work.
func (t Timeouts) BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, t.Bulk, DefaultBulkTimeout)
}

func withTimeout(parent context.Context, d, fallback time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = fallback
	}
	return context.WithTimeout(parent, d)
}
