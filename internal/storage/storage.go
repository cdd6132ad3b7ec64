// Package storage is the durable tier of the directory cache.
//
// Records are keyed by (domain, id) and survive process restarts. Memory
// eviction never touches this tier.
package storage

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/models"
)

// Storage is the durable store consulted on a memory miss. Read methods
// return (nil, nil) when the record is absent.
type Storage interface {
	ReadContact(ctx context.Context, id int64) (*models.Contact, error)
	WriteContact(ctx context.Context, c *models.Contact) error
	ReadGroup(ctx context.Context, id int64) (*models.Group, error)
	WriteGroup(ctx context.Context, g *models.Group) error

	// ReadGroups lists groups whose last activity lies in [begin, end),
	// most recent first. A zero bound is open. When states is non-empty
	// only groups in one of those states are returned.
	ReadGroups(ctx context.Context, begin, end time.Time, states []models.GroupState) ([]*models.Group, error)
}
