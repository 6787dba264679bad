package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/seed"
	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// mysql and sqlite deployments fall back to schema sync.
			if err := conn.AutoMigrate(
				&taxonomydomain.Module{},
				&taxonomydomain.Submodule{},
				&entitlementdomain.OrgModuleEntitlement{},
				&entitlementdomain.OrgSubmoduleEntitlement{},
				&auditdomain.AuditEvent{},
				&authorization.OrganizationMember{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultCatalog(conn)
	}),
)
