package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry is one audit record to append.
type Entry struct {
	OrgID          *snowflake.ID
	EventType      string
	ActorType      string
	ActorID        *string
	Reason         string
	Diff           map[string]any
	IdempotencyKey *string
}

type ListAuditEventRequest struct {
	pagination.Pagination
	EventType string
	ActorType string
	StartAt   *time.Time
	EndAt     *time.Time
}

type ListAuditEventResponse struct {
	pagination.PageInfo
	AuditEvents []AuditEvent `json:"audit_events"`
}

type Service interface {
	// Record appends an audit event using the provided handle, which may be
	// an open transaction, and returns the new event id.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (snowflake.ID, error)

	List(ctx context.Context, req ListAuditEventRequest) (ListAuditEventResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)
