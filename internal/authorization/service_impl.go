package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
)

//go:embed model.conf
var modelText string

const (
	ObjectEntitlement = "entitlement"
	ObjectTaxonomy    = "taxonomy"
	ObjectAuditLog    = "audit_log"
	ObjectMenu        = "menu"
	ObjectMember      = "member"
)

const (
	ActionEntitlementView  = "entitlement.view"
	ActionEntitlementApply = "entitlement.apply"
	ActionEntitlementReset = "entitlement.reset"

	ActionTaxonomyView   = "taxonomy.view"
	ActionTaxonomyManage = "taxonomy.manage"

	ActionAuditLogView = "audit_log.view"

	ActionMenuView = "menu.view"

	ActionMemberView   = "member.view"
	ActionMemberManage = "member.manage"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("org_id", orgID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "api_key:") {
		// API keys act with the system role.
		apiKeyID, err := snowflake.ParseString(strings.TrimPrefix(actor, "api_key:"))
		if err != nil || apiKeyID == 0 {
			return "", "", ErrInvalidActor
		}
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedOrgID, err := snowflake.ParseString(orgID)
		if err != nil || parsedOrgID == 0 {
			return "", "", ErrInvalidOrganization
		}
		role, err := s.RoleForUser(ctx, parsedOrgID, userID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) RoleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Members read their own org's state and menu.
		{"role:member", ObjectEntitlement, ActionEntitlementView},
		{"role:member", ObjectMenu, ActionMenuView},
		{"role:member", ObjectTaxonomy, ActionTaxonomyView},

		// Admins additionally manage entitlements and read the audit trail.
		{"role:admin", ObjectEntitlement, ActionEntitlementView},
		{"role:admin", ObjectEntitlement, ActionEntitlementApply},
		{"role:admin", ObjectMenu, ActionMenuView},
		{"role:admin", ObjectTaxonomy, ActionTaxonomyView},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectMember, ActionMemberView},

		// Owners get everything admins do plus member management.
		{"role:owner", ObjectEntitlement, ActionEntitlementView},
		{"role:owner", ObjectEntitlement, ActionEntitlementApply},
		{"role:owner", ObjectMenu, ActionMenuView},
		{"role:owner", ObjectTaxonomy, ActionTaxonomyView},
		{"role:owner", ObjectAuditLog, ActionAuditLogView},
		{"role:owner", ObjectMember, ActionMemberView},
		{"role:owner", ObjectMember, ActionMemberManage},

		// System role covers automation and API keys. Reset stays out of
		// every org role: it requires the platform-root capability which is
		// checked before RBAC.
		{"role:system", ObjectEntitlement, ActionEntitlementView},
		{"role:system", ObjectEntitlement, ActionEntitlementApply},
		{"role:system", ObjectEntitlement, ActionEntitlementReset},
		{"role:system", ObjectTaxonomy, ActionTaxonomyView},
		{"role:system", ObjectTaxonomy, ActionTaxonomyManage},
		{"role:system", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
