package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	auditrepository "github.com/smallbiznis/featuregate/internal/audit/repository"
	auditservice "github.com/smallbiznis/featuregate/internal/audit/service"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/entitlement/repository"
	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

type catalogStub struct {
	catalog taxonomydomain.Catalog
}

func (c *catalogStub) ActiveCatalog(ctx context.Context) (taxonomydomain.Catalog, error) {
	return c.catalog, nil
}

func (c *catalogStub) CreateModule(context.Context, taxonomydomain.CreateModuleRequest) (*taxonomydomain.ModuleResponse, error) {
	return nil, nil
}

func (c *catalogStub) CreateSubmodule(context.Context, taxonomydomain.CreateSubmoduleRequest) (*taxonomydomain.SubmoduleResponse, error) {
	return nil, nil
}

func (c *catalogStub) ArchiveModule(context.Context, string) (*taxonomydomain.ModuleResponse, error) {
	return nil, nil
}

func (c *catalogStub) ArchiveSubmodule(context.Context, string, string) (*taxonomydomain.SubmoduleResponse, error) {
	return nil, nil
}

func testCatalog() taxonomydomain.Catalog {
	return taxonomydomain.NewCatalog([]taxonomydomain.CatalogModule{
		{
			Module: taxonomydomain.Module{Key: "sales", Name: "Sales", Active: true},
			Submodules: []taxonomydomain.Submodule{
				{ModuleKey: "sales", Key: "lead_mgmt", Name: "Lead Management", Active: true},
				{ModuleKey: "sales", Key: "quotations", Name: "Quotations", Active: true},
			},
		},
		{
			Module: taxonomydomain.Module{Key: "inventory", Name: "Inventory", Active: true},
			Submodules: []taxonomydomain.Submodule{
				{ModuleKey: "inventory", Key: "stock", Name: "Stock", Active: true},
			},
		},
	})
}

func setupEntitlementService(t *testing.T, clk clock.Clock) (entitlementdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(
		&entitlementdomain.OrgModuleEntitlement{},
		&entitlementdomain.OrgSubmoduleEntitlement{},
		&auditdomain.AuditEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clk,
		GenID:     node,
		Cfg:       config.Config{SnapshotTTL: time.Minute},
		Repo:      repository.Provide(),
		Taxonomy:  &catalogStub{catalog: testCatalog()},
		Audit:     audit,
		AuditRepo: auditrepository.Provide(),
	})

	return svc, db
}

func userActor(id string) entitlementdomain.Actor {
	return entitlementdomain.Actor{Type: entitlementdomain.ActorTypeUser, ID: &id}
}

func countAuditEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&auditdomain.AuditEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count audit events: %v", err)
	}
	return n
}

func TestApplyDiffCreatesRowsAndAudit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1001)

	resp, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  userActor("42"),
		Reason: "sales plan purchased",
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
		},
	})
	if err != nil {
		t.Fatalf("apply diff: %v", err)
	}
	if resp.AuditEventID == "" {
		t.Fatal("expected audit event id")
	}

	module, ok := resp.State.Module("sales")
	if !ok || module.Status != entitlementdomain.StatusEnabled {
		t.Fatalf("expected sales enabled, got %+v", module)
	}
	if !resp.State.SubmoduleEnabled("sales", "lead_mgmt") {
		t.Fatal("expected submodules to inherit enabled")
	}

	var event auditdomain.AuditEvent
	if err := db.First(&event).Error; err != nil {
		t.Fatalf("load audit event: %v", err)
	}
	if event.EventType != auditdomain.EventEntitlementDiffApplied {
		t.Fatalf("unexpected event type %q", event.EventType)
	}
	if event.Reason != "sales plan purchased" {
		t.Fatalf("unexpected reason %q", event.Reason)
	}
	modules, ok := event.Diff["modules"].(map[string]any)
	if !ok {
		t.Fatalf("expected modules diff, got %v", event.Diff)
	}
	sales, ok := modules["sales"].(map[string]any)
	if !ok || sales["from"] != "absent" || sales["to"] != "enabled" {
		t.Fatalf("unexpected module diff %v", modules["sales"])
	}
}

func TestApplyDiffUpdatesExistingRow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1002)

	for _, status := range []entitlementdomain.ModuleStatus{
		entitlementdomain.StatusEnabled,
		entitlementdomain.StatusDisabled,
	} {
		if _, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
			OrgID:  orgID,
			Actor:  userActor("42"),
			Reason: "plan change",
			Modules: []entitlementdomain.ModuleChange{
				{ModuleKey: "sales", Status: status},
			},
		}); err != nil {
			t.Fatalf("apply %s: %v", status, err)
		}
	}

	var rows int64
	if err := db.Model(&entitlementdomain.OrgModuleEntitlement{}).Count(&rows).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected single row per (org, module), got %d", rows)
	}

	state, err := svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if module, _ := state.Module("sales"); module.Status != entitlementdomain.StatusDisabled {
		t.Fatalf("expected sales disabled after second diff, got %s", module.Status)
	}

	var events []auditdomain.AuditEvent
	if err := db.Order("id asc").Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	modules := events[1].Diff["modules"].(map[string]any)
	sales := modules["sales"].(map[string]any)
	if sales["from"] != "enabled" || sales["to"] != "disabled" {
		t.Fatalf("unexpected second diff %v", sales)
	}
}

func TestApplyDiffRejectsUnknownKeyAtomically(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1003)

	_, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  userActor("42"),
		Reason: "partial apply must not happen",
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
			{ModuleKey: "payroll", Status: entitlementdomain.StatusEnabled},
		},
	})
	if err != entitlementdomain.ErrUnknownModule {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}

	var rows int64
	if err := db.Model(&entitlementdomain.OrgModuleEntitlement{}).Count(&rows).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected no rows after rejected diff, got %d", rows)
	}
	if n := countAuditEvents(t, db); n != 0 {
		t.Fatalf("expected no audit events after rejected diff, got %d", n)
	}
}

func TestApplyDiffRejectsUnknownSubmodule(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupEntitlementService(t, clk)
	ctx := context.Background()

	_, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  snowflake.ID(1004),
		Actor:  userActor("42"),
		Reason: "bad submodule",
		Submodules: []entitlementdomain.SubmoduleChange{
			{ModuleKey: "sales", SubmoduleKey: "forecasting", Enabled: true},
		},
	})
	if err != entitlementdomain.ErrUnknownSubmodule {
		t.Fatalf("expected ErrUnknownSubmodule, got %v", err)
	}
}

func TestApplyDiffValidation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupEntitlementService(t, clk)
	ctx := context.Background()
	expired := clk.Now().Add(-time.Hour)

	cases := []struct {
		name string
		req  entitlementdomain.ApplyDiffRequest
		want error
	}{
		{
			name: "missing org",
			req: entitlementdomain.ApplyDiffRequest{
				Actor:  userActor("42"),
				Reason: "r",
				Modules: []entitlementdomain.ModuleChange{
					{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
				},
			},
			want: entitlementdomain.ErrInvalidOrganization,
		},
		{
			name: "missing reason",
			req: entitlementdomain.ApplyDiffRequest{
				OrgID: snowflake.ID(1005),
				Actor: userActor("42"),
				Modules: []entitlementdomain.ModuleChange{
					{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
				},
			},
			want: entitlementdomain.ErrMissingReason,
		},
		{
			name: "empty diff",
			req: entitlementdomain.ApplyDiffRequest{
				OrgID:  snowflake.ID(1005),
				Actor:  userActor("42"),
				Reason: "r",
			},
			want: entitlementdomain.ErrEmptyDiff,
		},
		{
			name: "invalid status",
			req: entitlementdomain.ApplyDiffRequest{
				OrgID:  snowflake.ID(1005),
				Actor:  userActor("42"),
				Reason: "r",
				Modules: []entitlementdomain.ModuleChange{
					{ModuleKey: "sales", Status: "suspended"},
				},
			},
			want: entitlementdomain.ErrInvalidStatus,
		},
		{
			name: "trial without expiry",
			req: entitlementdomain.ApplyDiffRequest{
				OrgID:  snowflake.ID(1005),
				Actor:  userActor("42"),
				Reason: "r",
				Modules: []entitlementdomain.ModuleChange{
					{ModuleKey: "sales", Status: entitlementdomain.StatusTrial},
				},
			},
			want: entitlementdomain.ErrInvalidTrialExpiry,
		},
		{
			name: "trial with past expiry",
			req: entitlementdomain.ApplyDiffRequest{
				OrgID:  snowflake.ID(1005),
				Actor:  userActor("42"),
				Reason: "r",
				Modules: []entitlementdomain.ModuleChange{
					{ModuleKey: "sales", Status: entitlementdomain.StatusTrial, TrialExpiresAt: &expired},
				},
			},
			want: entitlementdomain.ErrInvalidTrialExpiry,
		},
		{
			name: "malformed idempotency key",
			req: entitlementdomain.ApplyDiffRequest{
				OrgID:          snowflake.ID(1005),
				Actor:          userActor("42"),
				Reason:         "r",
				IdempotencyKey: "not-a-ulid",
				Modules: []entitlementdomain.ModuleChange{
					{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
				},
			},
			want: entitlementdomain.ErrInvalidIdempotency,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ApplyDiff(ctx, tc.req); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestApplyDiffIdempotentReplay(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1006)

	key := ulid.MustNew(ulid.Timestamp(clk.Now()), ulid.DefaultEntropy()).String()
	req := entitlementdomain.ApplyDiffRequest{
		OrgID:          orgID,
		Actor:          userActor("42"),
		Reason:         "enable sales once",
		IdempotencyKey: key,
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
		},
	}

	first, err := svc.ApplyDiff(ctx, req)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if first.Replayed {
		t.Fatal("first apply must not be a replay")
	}

	// Same key with a different payload still replays: the key identifies
	// the request, not its body.
	req.Modules[0].Status = entitlementdomain.StatusDisabled
	second, err := svc.ApplyDiff(ctx, req)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected replay on duplicate idempotency key")
	}
	if second.AuditEventID != first.AuditEventID {
		t.Fatalf("replay must return original event id: %s vs %s", second.AuditEventID, first.AuditEventID)
	}

	if n := countAuditEvents(t, db); n != 1 {
		t.Fatalf("expected a single audit event, got %d", n)
	}
	state, err := svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if module, _ := state.Module("sales"); module.Status != entitlementdomain.StatusEnabled {
		t.Fatalf("replay must not re-apply, got %s", module.Status)
	}
}

func TestApplyDiffInvalidatesSnapshot(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1007)

	before, err := svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if module, _ := before.Module("sales"); module.Enabled() {
		t.Fatal("expected sales disabled before apply")
	}

	if _, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  userActor("42"),
		Reason: "upgrade",
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
		},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Well within the TTL, so a stale snapshot would still be served if the
	// write had not invalidated it.
	after, err := svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve after apply: %v", err)
	}
	if module, _ := after.Module("sales"); !module.Enabled() {
		t.Fatal("expected fresh snapshot immediately after apply")
	}
}

func TestResetDisablesEverything(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1008)

	if _, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  userActor("42"),
		Reason: "initial grant",
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
			{ModuleKey: "inventory", Status: entitlementdomain.StatusEnabled},
		},
		Submodules: []entitlementdomain.SubmoduleChange{
			{ModuleKey: "sales", SubmoduleKey: "quotations", Enabled: false},
		},
	}); err != nil {
		t.Fatalf("seed grants: %v", err)
	}

	resp, err := svc.Reset(ctx, orgID, entitlementdomain.Actor{Type: entitlementdomain.ActorTypeSystem}, "support requested teardown")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	for _, key := range []string{"sales", "inventory"} {
		if module, _ := resp.State.Module(key); module.Enabled() {
			t.Fatalf("expected %s disabled after reset", key)
		}
	}

	var event auditdomain.AuditEvent
	if err := db.Order("id desc").First(&event).Error; err != nil {
		t.Fatalf("load audit event: %v", err)
	}
	if event.EventType != auditdomain.EventEntitlementReset {
		t.Fatalf("expected reset event, got %q", event.EventType)
	}

	// Overrides return to inherit, so re-enabling the module restores its
	// submodules without a second override write.
	if _, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  userActor("42"),
		Reason: "re-enable",
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusEnabled},
		},
	}); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	state, err := svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !state.SubmoduleEnabled("sales", "quotations") {
		t.Fatal("expected quotations back to inherit after reset")
	}
}

func TestResolveTrialExpiresWithoutWrite(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupEntitlementService(t, clk)
	ctx := context.Background()
	orgID := snowflake.ID(1009)

	expiry := clk.Now().Add(24 * time.Hour)
	if _, err := svc.ApplyDiff(ctx, entitlementdomain.ApplyDiffRequest{
		OrgID:  orgID,
		Actor:  userActor("42"),
		Reason: "trial started",
		Modules: []entitlementdomain.ModuleChange{
			{ModuleKey: "sales", Status: entitlementdomain.StatusTrial, TrialExpiresAt: &expiry},
		},
	}); err != nil {
		t.Fatalf("apply trial: %v", err)
	}

	state, err := svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if module, _ := state.Module("sales"); module.Status != entitlementdomain.StatusTrial {
		t.Fatalf("expected active trial, got %s", module.Status)
	}

	clk.Advance(48 * time.Hour)
	svc.Invalidate(orgID)

	state, err = svc.Resolve(ctx, orgID)
	if err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if module, _ := state.Module("sales"); module.Status != entitlementdomain.StatusDisabled {
		t.Fatalf("expected expired trial to resolve disabled, got %s", module.Status)
	}

	// Expiry is read-time only; the stored row still says trial.
	var row entitlementdomain.OrgModuleEntitlement
	if err := db.Where("org_id = ? AND module_key = ?", orgID, "sales").First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Status != entitlementdomain.StatusTrial {
		t.Fatalf("stored status must stay trial, got %s", row.Status)
	}
}
