package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Actor identifies who initiated a change. System-initiated changes carry a
// nil ID.
type Actor struct {
	Type string  `json:"type"`
	ID   *string `json:"id,omitempty"`
}

const (
	ActorTypeUser   = "user"
	ActorTypeAPIKey = "api_key"
	ActorTypeSystem = "system"
)

// ModuleChange is one delta in a diff-only update request.
type ModuleChange struct {
	ModuleKey      string       `json:"module_key"`
	Status         ModuleStatus `json:"status"`
	TrialExpiresAt *time.Time   `json:"trial_expires_at,omitempty"`
}

type SubmoduleChange struct {
	ModuleKey    string `json:"module_key"`
	SubmoduleKey string `json:"submodule_key"`
	Enabled      bool   `json:"enabled"`
}

// ApplyDiffRequest expresses only the deltas to apply, never a full
// replacement of state. Reason is mandatory: there is no anonymous silent
// update path.
type ApplyDiffRequest struct {
	OrgID  snowflake.ID
	Actor  Actor
	Reason string
	// IdempotencyKey, when set, must be a ULID supplied by the caller. A
	// replayed key returns the original audit event without re-applying.
	IdempotencyKey string
	Source         string
	Modules        []ModuleChange
	Submodules     []SubmoduleChange
}

type ApplyDiffResponse struct {
	State        State  `json:"state"`
	AuditEventID string `json:"audit_event_id"`
	// Replayed is true when the idempotency key matched a previous apply and
	// no new writes occurred.
	Replayed bool `json:"replayed,omitempty"`
}

type Service interface {
	// Resolve returns the organization's effective state, served from the
	// snapshot cache within its TTL.
	Resolve(ctx context.Context, orgID snowflake.ID) (State, error)

	// ApplyDiff validates, applies and audits a diff-only update. All row
	// upserts and the audit event commit in one transaction; the snapshot
	// cache is invalidated before returning.
	ApplyDiff(ctx context.Context, req ApplyDiffRequest) (*ApplyDiffResponse, error)

	// Reset disables every module the organization currently has a row for.
	// Destructive cross-org tool; callers must hold platform-root.
	Reset(ctx context.Context, orgID snowflake.ID, actor Actor, reason string) (*ApplyDiffResponse, error)

	// Invalidate drops the organization's cached snapshot. Safe to call more
	// than once per write.
	Invalidate(orgID snowflake.ID)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrUnknownModule       = errors.New("unknown_module")
	ErrUnknownSubmodule    = errors.New("unknown_submodule")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidTrialExpiry  = errors.New("invalid_trial_expiry")
	ErrMissingReason       = errors.New("missing_reason")
	ErrEmptyDiff           = errors.New("empty_diff")
	ErrInvalidIdempotency  = errors.New("invalid_idempotency_key")
	ErrWriteContention     = errors.New("write_contention")
)
