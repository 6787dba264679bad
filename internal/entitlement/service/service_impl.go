package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/entitlement/resolver"
	"github.com/smallbiznis/featuregate/internal/invalidation"
	"github.com/smallbiznis/featuregate/internal/locks"
	"github.com/smallbiznis/featuregate/internal/observability/metrics"
	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

const (
	writeLockTTL       = 10 * time.Second
	writeLockKeyPrefix = "featuregate:org_write:"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Cfg         config.Config
	Repo        entitlementdomain.Repository
	Taxonomy    taxonomydomain.Service
	Audit       auditdomain.Service
	AuditRepo   auditdomain.Repository
	Locker      *locks.Locker             `optional:"true"`
	Broadcaster *invalidation.Broadcaster `optional:"true"`
	Metrics     *metrics.Metrics          `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	repo        entitlementdomain.Repository
	taxonomy    taxonomydomain.Service
	audit       auditdomain.Service
	auditRepo   auditdomain.Repository
	locker      *locks.Locker
	broadcaster *invalidation.Broadcaster
	metrics     *metrics.Metrics

	writers *locks.KeyedMutex
	cache   *cache.SnapshotCache
}

func NewService(p Params) entitlementdomain.Service {
	s := &Service{
		db:          p.DB,
		log:         p.Log.Named("entitlement.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		repo:        p.Repo,
		taxonomy:    p.Taxonomy,
		audit:       p.Audit,
		auditRepo:   p.AuditRepo,
		locker:      p.Locker,
		broadcaster: p.Broadcaster,
		metrics:     p.Metrics,
		writers:     locks.NewKeyedMutex(),
	}
	s.cache = cache.NewSnapshotCache(p.Cfg.SnapshotTTL, s.resolveFresh)
	return s
}

func (s *Service) Resolve(ctx context.Context, orgID snowflake.ID) (entitlementdomain.State, error) {
	if orgID == 0 {
		return entitlementdomain.State{}, entitlementdomain.ErrInvalidOrganization
	}
	if s.cache.Contains(orgID) {
		s.metrics.RecordSnapshotHit(ctx)
	} else {
		s.metrics.RecordSnapshotMiss(ctx)
	}
	return s.cache.Get(ctx, orgID)
}

// Invalidate drops the cached snapshot for one organization. Called locally
// after every write and remotely via the redis invalidation channel.
func (s *Service) Invalidate(orgID snowflake.ID) {
	s.cache.Invalidate(orgID)
}

// resolveFresh recomputes effective state from the database. Pure read: the
// resolver evaluates trial expiry against the current clock without ever
// rewriting stored rows.
func (s *Service) resolveFresh(ctx context.Context, orgID snowflake.ID) (entitlementdomain.State, error) {
	catalog, err := s.taxonomy.ActiveCatalog(ctx)
	if err != nil {
		return entitlementdomain.State{}, err
	}

	modules, err := retryRead(func() ([]entitlementdomain.OrgModuleEntitlement, error) {
		return s.repo.ListModuleEntitlements(ctx, s.db, orgID)
	})
	if err != nil {
		return entitlementdomain.State{}, err
	}
	submodules, err := retryRead(func() ([]entitlementdomain.OrgSubmoduleEntitlement, error) {
		return s.repo.ListSubmoduleEntitlements(ctx, s.db, orgID)
	})
	if err != nil {
		return entitlementdomain.State{}, err
	}

	return resolver.Resolve(orgID, catalog, modules, submodules, s.clock.Now()), nil
}

// retryRead retries a storage read once. A failed resolve denies access
// downstream, so the read path absorbs one transient error before giving
// up; writes never retry.
func retryRead[T any](fn func() ([]T, error)) ([]T, error) {
	out, err := fn()
	if err != nil {
		out, err = fn()
	}
	return out, err
}

func (s *Service) ApplyDiff(ctx context.Context, req entitlementdomain.ApplyDiffRequest) (*entitlementdomain.ApplyDiffResponse, error) {
	return s.apply(ctx, req, auditdomain.EventEntitlementDiffApplied)
}

// Reset disables every module the organization has a row for and clears
// every submodule override back to inherit. Expressed as a regular diff so
// it flows through the same validation, transaction and audit path.
func (s *Service) Reset(ctx context.Context, orgID snowflake.ID, actor entitlementdomain.Actor, reason string) (*entitlementdomain.ApplyDiffResponse, error) {
	if orgID == 0 {
		return nil, entitlementdomain.ErrInvalidOrganization
	}

	modules, err := s.repo.ListModuleEntitlements(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	submodules, err := s.repo.ListSubmoduleEntitlements(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	req := entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  actor,
		Reason: reason,
		Source: "reset",
	}
	for _, row := range modules {
		if row.Status == entitlementdomain.StatusDisabled {
			continue
		}
		req.Modules = append(req.Modules, entitlementdomain.ModuleChange{
			ModuleKey: row.ModuleKey,
			Status:    entitlementdomain.StatusDisabled,
		})
	}
	for _, row := range submodules {
		if row.Enabled {
			continue
		}
		req.Submodules = append(req.Submodules, entitlementdomain.SubmoduleChange{
			ModuleKey:    row.ModuleKey,
			SubmoduleKey: row.SubmoduleKey,
			Enabled:      true,
		})
	}

	if len(req.Modules) == 0 && len(req.Submodules) == 0 {
		state, err := s.Resolve(ctx, orgID)
		if err != nil {
			return nil, err
		}
		return &entitlementdomain.ApplyDiffResponse{State: state}, nil
	}

	return s.apply(ctx, req, auditdomain.EventEntitlementReset)
}

func (s *Service) apply(ctx context.Context, req entitlementdomain.ApplyDiffRequest, eventType string) (*entitlementdomain.ApplyDiffResponse, error) {
	if req.OrgID == 0 {
		return nil, entitlementdomain.ErrInvalidOrganization
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, entitlementdomain.ErrMissingReason
	}
	if len(req.Modules) == 0 && len(req.Submodules) == 0 {
		return nil, entitlementdomain.ErrEmptyDiff
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if _, err := ulid.ParseStrict(req.IdempotencyKey); err != nil {
			return nil, entitlementdomain.ErrInvalidIdempotency
		}
	}

	catalog, err := s.taxonomy.ActiveCatalog(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := validateChanges(catalog, req, now); err != nil {
		return nil, err
	}

	// One writer per org. The keyed mutex covers this replica; the redis
	// lock, when configured, covers the fleet.
	unlock := s.writers.Lock(req.OrgID)
	defer unlock()

	if s.locker != nil {
		key := writeLockKeyPrefix + req.OrgID.String()
		token, ok, err := s.locker.TryLock(ctx, key, writeLockTTL)
		if err != nil {
			s.log.Warn("distributed write lock unavailable, proceeding with local lock",
				zap.String("org_id", req.OrgID.String()), zap.Error(err))
		} else if !ok {
			return nil, entitlementdomain.ErrWriteContention
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("failed to release write lock", zap.Error(err))
				}
			}()
		}
	}

	if req.IdempotencyKey != "" {
		prior, err := s.auditRepo.FindByIdempotencyKey(ctx, s.db, req.OrgID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			state, err := s.Resolve(ctx, req.OrgID)
			if err != nil {
				return nil, err
			}
			return &entitlementdomain.ApplyDiffResponse{
				State:        state,
				AuditEventID: prior.ID.String(),
				Replayed:     true,
			}, nil
		}
	}

	var auditEventID snowflake.ID
	err = s.db.Transaction(func(tx *gorm.DB) error {
		diff, txErr := s.applyChanges(ctx, tx, req, now)
		if txErr != nil {
			return txErr
		}

		entry := auditdomain.Entry{
			OrgID:     &req.OrgID,
			EventType: eventType,
			ActorType: req.Actor.Type,
			ActorID:   req.Actor.ID,
			Reason:    req.Reason,
			Diff:      diff,
		}
		if req.IdempotencyKey != "" {
			entry.IdempotencyKey = &req.IdempotencyKey
		}

		auditEventID, txErr = s.audit.Record(ctx, tx, entry)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(req.OrgID)
	s.broadcaster.Publish(ctx, req.OrgID)
	s.metrics.RecordDiffApplied(ctx, eventType)
	s.metrics.RecordInvalidation(ctx, "local")

	state, err := s.Resolve(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	s.log.Info("applied entitlement diff",
		zap.String("org_id", req.OrgID.String()),
		zap.String("event_type", eventType),
		zap.Int("module_changes", len(req.Modules)),
		zap.Int("submodule_changes", len(req.Submodules)),
	)

	return &entitlementdomain.ApplyDiffResponse{
		State:        state,
		AuditEventID: auditEventID.String(),
	}, nil
}

// applyChanges upserts the changed rows inside tx and returns the audit
// payload describing previous -> new for every row actually touched. No-op
// changes are dropped from both the writes and the payload.
func (s *Service) applyChanges(ctx context.Context, tx *gorm.DB, req entitlementdomain.ApplyDiffRequest, now time.Time) (map[string]any, error) {
	currentModules, err := s.repo.ListModuleEntitlements(ctx, tx, req.OrgID)
	if err != nil {
		return nil, err
	}
	currentSubmodules, err := s.repo.ListSubmoduleEntitlements(ctx, tx, req.OrgID)
	if err != nil {
		return nil, err
	}

	moduleRows := make(map[string]entitlementdomain.OrgModuleEntitlement, len(currentModules))
	for _, row := range currentModules {
		moduleRows[row.ModuleKey] = row
	}
	submoduleRows := make(map[string]entitlementdomain.OrgSubmoduleEntitlement, len(currentSubmodules))
	for _, row := range currentSubmodules {
		submoduleRows[row.ModuleKey+"."+row.SubmoduleKey] = row
	}

	moduleDiff := map[string]any{}
	for _, change := range req.Modules {
		prior, exists := moduleRows[change.ModuleKey]
		if exists && prior.Status == change.Status && equalTime(prior.TrialExpiresAt, change.TrialExpiresAt) {
			continue
		}

		from := "absent"
		if exists {
			from = string(prior.Status)
		}
		entryDiff := map[string]any{
			"from": from,
			"to":   string(change.Status),
		}
		if change.TrialExpiresAt != nil {
			entryDiff["trial_expires_at"] = change.TrialExpiresAt.UTC().Format(time.RFC3339)
		}
		moduleDiff[change.ModuleKey] = entryDiff

		row := entitlementdomain.OrgModuleEntitlement{
			OrgID:          req.OrgID,
			ModuleKey:      change.ModuleKey,
			Status:         change.Status,
			TrialExpiresAt: change.TrialExpiresAt,
			Source:         req.Source,
			UpdatedAt:      now,
		}
		if exists {
			if err := s.repo.UpdateModuleEntitlement(ctx, tx, &row); err != nil {
				return nil, err
			}
		} else {
			row.ID = s.genID.Generate()
			row.CreatedAt = now
			if err := s.repo.InsertModuleEntitlement(ctx, tx, &row); err != nil {
				return nil, err
			}
		}
		moduleRows[change.ModuleKey] = row
	}

	submoduleDiff := map[string]any{}
	for _, change := range req.Submodules {
		key := change.ModuleKey + "." + change.SubmoduleKey
		prior, exists := submoduleRows[key]
		if exists && prior.Enabled == change.Enabled {
			continue
		}

		from := "absent"
		if exists {
			from = formatEnabled(prior.Enabled)
		}
		submoduleDiff[key] = map[string]any{
			"from": from,
			"to":   formatEnabled(change.Enabled),
		}

		row := entitlementdomain.OrgSubmoduleEntitlement{
			OrgID:        req.OrgID,
			ModuleKey:    change.ModuleKey,
			SubmoduleKey: change.SubmoduleKey,
			Enabled:      change.Enabled,
			Source:       req.Source,
			UpdatedAt:    now,
		}
		if exists {
			if err := s.repo.UpdateSubmoduleEntitlement(ctx, tx, &row); err != nil {
				return nil, err
			}
		} else {
			row.ID = s.genID.Generate()
			row.CreatedAt = now
			if err := s.repo.InsertSubmoduleEntitlement(ctx, tx, &row); err != nil {
				return nil, err
			}
		}
		submoduleRows[key] = row
	}

	diff := map[string]any{}
	if len(moduleDiff) > 0 {
		diff["modules"] = moduleDiff
	}
	if len(submoduleDiff) > 0 {
		diff["submodules"] = submoduleDiff
	}
	return diff, nil
}

// validateChanges rejects the whole diff before any row is written. Partial
// application is never allowed: one unknown key fails the entire request.
func validateChanges(catalog taxonomydomain.Catalog, req entitlementdomain.ApplyDiffRequest, now time.Time) error {
	for i := range req.Modules {
		change := &req.Modules[i]
		if !catalog.HasModule(change.ModuleKey) {
			return entitlementdomain.ErrUnknownModule
		}
		if !entitlementdomain.ValidStatus(change.Status) {
			return entitlementdomain.ErrInvalidStatus
		}
		if change.Status == entitlementdomain.StatusTrial {
			if change.TrialExpiresAt == nil || !change.TrialExpiresAt.After(now) {
				return entitlementdomain.ErrInvalidTrialExpiry
			}
		} else {
			// Expiry only travels with trial status.
			change.TrialExpiresAt = nil
		}
	}
	for _, change := range req.Submodules {
		if !catalog.HasModule(change.ModuleKey) {
			return entitlementdomain.ErrUnknownModule
		}
		if !catalog.HasSubmodule(change.ModuleKey, change.SubmoduleKey) {
			return entitlementdomain.ErrUnknownSubmodule
		}
	}
	return nil
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func formatEnabled(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
