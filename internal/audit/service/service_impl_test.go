package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/audit/repository"
	"github.com/smallbiznis/featuregate/internal/auditcontext"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/orgcontext"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

func setupAuditService(t *testing.T, clk clock.Clock) auditdomain.Service {
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

	if err := db.AutoMigrate(&auditdomain.AuditEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func orgCtx(orgID int64) context.Context {
	return orgcontext.WithOrgID(context.Background(), orgID)
}

func TestRecordResolvesActorFromContext(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := setupAuditService(t, clk)

	ctx := auditcontext.WithActor(orgCtx(42), "user", "10")
	ctx = auditcontext.WithRequestID(ctx, "req-1")

	id, err := svc.Record(ctx, nil, auditdomain.Entry{
		EventType: auditdomain.EventEntitlementDiffApplied,
		Reason:    "plan upgrade",
		Diff:      map[string]any{"modules": map[string]any{}},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero event id")
	}

	resp, err := svc.List(orgCtx(42), auditdomain.ListAuditEventRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditEvents) != 1 {
		t.Fatalf("expected one event, got %d", len(resp.AuditEvents))
	}
	event := resp.AuditEvents[0]
	if event.ActorType != "user" {
		t.Fatalf("unexpected actor type %q", event.ActorType)
	}
	if event.ActorID == nil || *event.ActorID != "10" {
		t.Fatal("expected actor id 10 from context")
	}
	if event.Diff["request_id"] != "req-1" {
		t.Fatalf("expected request id in diff, got %v", event.Diff["request_id"])
	}
}

func TestRecordRejectsEmptyEventType(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := setupAuditService(t, clk)

	_, err := svc.Record(orgCtx(42), nil, auditdomain.Entry{Reason: "x"})
	if !errors.Is(err, auditdomain.ErrInvalidEventType) {
		t.Fatalf("expected invalid_event_type, got %v", err)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := setupAuditService(t, clk)

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(orgCtx(42), nil, auditdomain.Entry{
			EventType: auditdomain.EventEntitlementDiffApplied,
			ActorType: "system",
			Reason:    fmt.Sprintf("change %d", i),
		}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		clk.Advance(time.Minute)
	}

	first, err := svc.List(orgCtx(42), auditdomain.ListAuditEventRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.AuditEvents) != 2 {
		t.Fatalf("expected 2 events, got %d", len(first.AuditEvents))
	}
	if !first.HasMore || first.NextPageToken == "" {
		t.Fatal("expected a next page")
	}
	if first.AuditEvents[0].Reason != "change 2" {
		t.Fatalf("expected newest first, got %q", first.AuditEvents[0].Reason)
	}

	second, err := svc.List(orgCtx(42), auditdomain.ListAuditEventRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.AuditEvents) != 1 {
		t.Fatalf("expected 1 event on second page, got %d", len(second.AuditEvents))
	}
	if second.AuditEvents[0].Reason != "change 0" {
		t.Fatalf("unexpected event on second page: %q", second.AuditEvents[0].Reason)
	}
}

func TestListFiltersByEventType(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := setupAuditService(t, clk)

	if _, err := svc.Record(orgCtx(42), nil, auditdomain.Entry{
		EventType: auditdomain.EventEntitlementDiffApplied,
		ActorType: "system",
		Reason:    "apply",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Record(orgCtx(42), nil, auditdomain.Entry{
		EventType: auditdomain.EventEntitlementReset,
		ActorType: "system",
		Reason:    "reset",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, err := svc.List(orgCtx(42), auditdomain.ListAuditEventRequest{
		EventType: auditdomain.EventEntitlementReset,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditEvents) != 1 || resp.AuditEvents[0].Reason != "reset" {
		t.Fatalf("expected only the reset event, got %+v", resp.AuditEvents)
	}
}

func TestListScopedToOrganization(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := setupAuditService(t, clk)

	if _, err := svc.Record(orgCtx(42), nil, auditdomain.Entry{
		EventType: auditdomain.EventEntitlementDiffApplied,
		ActorType: "system",
		Reason:    "org 42",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, err := svc.List(orgCtx(43), auditdomain.ListAuditEventRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditEvents) != 0 {
		t.Fatalf("expected no events for org 43, got %d", len(resp.AuditEvents))
	}
}

func TestListValidation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := setupAuditService(t, clk)

	if _, err := svc.List(context.Background(), auditdomain.ListAuditEventRequest{}); !errors.Is(err, auditdomain.ErrInvalidOrganization) {
		t.Fatalf("expected invalid_organization, got %v", err)
	}

	if _, err := svc.List(orgCtx(42), auditdomain.ListAuditEventRequest{
		Pagination: pagination.Pagination{PageToken: "not-base64!"},
	}); !errors.Is(err, auditdomain.ErrInvalidPageToken) {
		t.Fatalf("expected invalid_page_token, got %v", err)
	}

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.List(orgCtx(42), auditdomain.ListAuditEventRequest{
		StartAt: &start,
		EndAt:   &end,
	}); !errors.Is(err, auditdomain.ErrInvalidTimeRange) {
		t.Fatalf("expected invalid_time_range, got %v", err)
	}
}
