package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert takes the caller's handle so the event can join an open
	// transaction.
	Insert(ctx context.Context, db *gorm.DB, entry *AuditEvent) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditEvent, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*AuditEvent, error)
}
