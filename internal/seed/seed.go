package seed

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

// EnsureDefaultCatalog seeds the built-in module taxonomy on first startup.
// Idempotent: a non-empty modules table is left untouched so operator edits
// survive restarts.
func EnsureDefaultCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&taxonomydomain.Module{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		modules, submodules := defaultCatalog(now)
		if err := tx.Create(&modules).Error; err != nil {
			return err
		}
		return tx.Create(&submodules).Error
	})
}

func defaultCatalog(now time.Time) ([]taxonomydomain.Module, []taxonomydomain.Submodule) {
	modules := []taxonomydomain.Module{
		{Key: "sales", Name: "Sales", SortOrder: 1, Active: true, CreatedAt: now, UpdatedAt: now},
		{Key: "inventory", Name: "Inventory", SortOrder: 2, Active: true, CreatedAt: now, UpdatedAt: now},
		{Key: "purchasing", Name: "Purchasing", SortOrder: 3, Active: true, CreatedAt: now, UpdatedAt: now},
		{Key: "reports", Name: "Reports", SortOrder: 4, Active: true, CreatedAt: now, UpdatedAt: now},
		{Key: "email", Name: "Email", SortOrder: 5, AlwaysOn: true, Active: true, CreatedAt: now, UpdatedAt: now},
	}

	submodules := []taxonomydomain.Submodule{
		{ModuleKey: "sales", Key: "lead_mgmt", Name: "Lead Management", MenuPath: "/sales/leads", SortOrder: 1, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "sales", Key: "quotations", Name: "Quotations", MenuPath: "/sales/quotations", SortOrder: 2, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "sales", Key: "orders", Name: "Sales Orders", MenuPath: "/sales/orders", SortOrder: 3, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "inventory", Key: "stock", Name: "Stock", MenuPath: "/inventory/stock", SortOrder: 1, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "inventory", Key: "warehouses", Name: "Warehouses", MenuPath: "/inventory/warehouses", SortOrder: 2, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "purchasing", Key: "purchase_orders", Name: "Purchase Orders", MenuPath: "/purchasing/orders", SortOrder: 1, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "purchasing", Key: "vendors", Name: "Vendors", MenuPath: "/purchasing/vendors", SortOrder: 2, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "reports", Key: "dashboards", Name: "Dashboards", MenuPath: "/reports/dashboards", SortOrder: 1, Active: true, CreatedAt: now, UpdatedAt: now},
		{ModuleKey: "email", Key: "inbox", Name: "Inbox", MenuPath: "/email/inbox", SortOrder: 1, Active: true, CreatedAt: now, UpdatedAt: now},
	}

	return modules, submodules
}
