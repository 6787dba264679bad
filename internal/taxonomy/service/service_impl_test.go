package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/taxonomy/domain"
	"github.com/smallbiznis/featuregate/internal/taxonomy/repository"
)

func setupTaxonomyService(t *testing.T) domain.Service {
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

	if err := db.AutoMigrate(&domain.Module{}, &domain.Submodule{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreateModuleDerivesKeyFromName(t *testing.T) {
	svc := setupTaxonomyService(t)
	ctx := context.Background()

	resp, err := svc.CreateModule(ctx, domain.CreateModuleRequest{Name: "Field Service"})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	if resp.Key != "field-service" {
		t.Fatalf("expected derived key field-service, got %q", resp.Key)
	}
	if !resp.Active {
		t.Fatal("expected new module to be active")
	}
}

func TestCreateModuleRejectsDuplicateKey(t *testing.T) {
	svc := setupTaxonomyService(t)
	ctx := context.Background()

	if _, err := svc.CreateModule(ctx, domain.CreateModuleRequest{Key: "sales", Name: "Sales"}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	_, err := svc.CreateModule(ctx, domain.CreateModuleRequest{Key: "sales", Name: "Sales Again"})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate_key, got %v", err)
	}
}

func TestCreateModuleRequiresName(t *testing.T) {
	svc := setupTaxonomyService(t)

	_, err := svc.CreateModule(context.Background(), domain.CreateModuleRequest{Key: "sales"})
	if !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid_name, got %v", err)
	}
}

func TestCreateSubmoduleRequiresActiveModule(t *testing.T) {
	svc := setupTaxonomyService(t)
	ctx := context.Background()

	_, err := svc.CreateSubmodule(ctx, domain.CreateSubmoduleRequest{
		ModuleKey: "ghost",
		Name:      "Stock",
	})
	if !errors.Is(err, domain.ErrUnknownModule) {
		t.Fatalf("expected unknown_module, got %v", err)
	}

	if _, err := svc.CreateModule(ctx, domain.CreateModuleRequest{Key: "inventory", Name: "Inventory"}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	if _, err := svc.ArchiveModule(ctx, "inventory"); err != nil {
		t.Fatalf("archive module: %v", err)
	}

	_, err = svc.CreateSubmodule(ctx, domain.CreateSubmoduleRequest{
		ModuleKey: "inventory",
		Name:      "Stock",
	})
	if !errors.Is(err, domain.ErrUnknownModule) {
		t.Fatalf("expected unknown_module for archived parent, got %v", err)
	}
}

func TestActiveCatalogExcludesArchivedRows(t *testing.T) {
	svc := setupTaxonomyService(t)
	ctx := context.Background()

	if _, err := svc.CreateModule(ctx, domain.CreateModuleRequest{Key: "sales", Name: "Sales"}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	if _, err := svc.CreateSubmodule(ctx, domain.CreateSubmoduleRequest{
		ModuleKey: "sales",
		Key:       "lead_mgmt",
		Name:      "Lead Management",
		MenuPath:  "/sales/leads",
	}); err != nil {
		t.Fatalf("create submodule: %v", err)
	}
	if _, err := svc.CreateSubmodule(ctx, domain.CreateSubmoduleRequest{
		ModuleKey: "sales",
		Key:       "quotations",
		Name:      "Quotations",
	}); err != nil {
		t.Fatalf("create submodule: %v", err)
	}
	if _, err := svc.ArchiveSubmodule(ctx, "sales", "quotations"); err != nil {
		t.Fatalf("archive submodule: %v", err)
	}

	catalog, err := svc.ActiveCatalog(ctx)
	if err != nil {
		t.Fatalf("active catalog: %v", err)
	}
	if !catalog.HasModule("sales") {
		t.Fatal("expected sales in catalog")
	}
	if !catalog.HasSubmodule("sales", "lead_mgmt") {
		t.Fatal("expected lead_mgmt in catalog")
	}
	if catalog.HasSubmodule("sales", "quotations") {
		t.Fatal("expected archived quotations to be excluded")
	}
}

func TestArchiveModuleUnknownKey(t *testing.T) {
	svc := setupTaxonomyService(t)

	_, err := svc.ArchiveModule(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
