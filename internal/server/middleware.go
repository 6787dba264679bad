package server

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"go.uber.org/zap"

	"github.com/smallbiznis/featuregate/internal/access"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/auditcontext"
	"github.com/smallbiznis/featuregate/internal/authorization"
	"github.com/smallbiznis/featuregate/internal/orgcontext"
)

const (
	HeaderOrg     = "X-Org-ID"
	HeaderActor   = "X-Actor"
	HeaderSurface = "X-Surface"

	contextActorKey     = "actor"
	contextSuperuserKey = "platform_superuser"
	contextRootKey      = "platform_root"
	contextGateKey      = "gate_key"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAPIKey ActorType = "api_key"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type ActorType
	ID   string
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorUser:
		return fmt.Sprintf("user:%s", a.ID)
	case ActorAPIKey:
		return fmt.Sprintf("api_key:%s", a.ID)
	case ActorSystem:
		return "system"
	default:
		return ""
	}
}

// parseActor reads the identity asserted by the authenticating gateway in
// front of this service. The header is trusted; there is no credential
// verification here.
func parseActor(raw string) (Actor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Actor{}, false
	}
	if raw == string(ActorSystem) {
		return Actor{Type: ActorSystem, ID: "system"}, true
	}

	kind, id, found := strings.Cut(raw, ":")
	if !found || strings.TrimSpace(id) == "" {
		return Actor{}, false
	}
	switch ActorType(kind) {
	case ActorUser, ActorAPIKey:
		return Actor{Type: ActorType(kind), ID: strings.TrimSpace(id)}, true
	default:
		return Actor{}, false
	}
}

// Identity resolves the acting principal from the gateway header and seeds
// the request context for audit attribution. Platform capability flags are
// resolved here, once, and never re-derived downstream.
func (s *Server) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := parseActor(c.GetHeader(HeaderActor))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		subject := actor.subject()
		c.Set(contextActorKey, actor)
		c.Set(contextSuperuserKey, s.cfg.IsSuperuser(subject))
		c.Set(contextRootKey, s.cfg.IsRoot(subject))

		ctx := auditcontext.WithActor(c.Request.Context(), string(actor.Type), actor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OrgContext resolves the active organization from the route parameter,
// falling back to the X-Org-ID header for mounted routes without one.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("org_id"))
		if raw == "" {
			raw = strings.TrimSpace(c.GetHeader(HeaderOrg))
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_organization", "invalid organization id"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) actorFromContext(c *gin.Context) (Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok
}

func (s *Server) orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		return 0, newValidationError("org_id", "invalid_organization", "invalid organization id")
	}
	return orgID, nil
}

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeOrgActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeOrgActionWithContext(c *gin.Context, object string, action string) error {
	actor, ok := s.actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}

	// Platform operators work across organizations they are not members of.
	if c.GetBool(contextRootKey) || c.GetBool(contextSuperuserKey) {
		return nil
	}

	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		if actor.Type == ActorSystem {
			// Catalog administration is not org-scoped; the enforcer still
			// needs a domain to evaluate in.
			orgID = platformOrgID
		} else {
			return err
		}
	}

	return s.authzSvc.Authorize(c.Request.Context(), actor.subject(), orgID.String(), strings.TrimSpace(object), strings.TrimSpace(action))
}

// platformOrgID anchors non-org-scoped administration (taxonomy CRUD) in a
// reserved enforcer domain.
const platformOrgID = snowflake.ID(1)

func (s *Server) callerFromContext(c *gin.Context, orgID snowflake.ID) access.Caller {
	caller := access.Caller{
		Surface:           access.SurfaceAPI,
		PlatformSuperuser: c.GetBool(contextSuperuserKey),
		PlatformRoot:      c.GetBool(contextRootKey),
	}
	if strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderSurface)), string(access.SurfaceUI)) {
		caller.Surface = access.SurfaceUI
	}

	actor, ok := s.actorFromContext(c)
	if !ok {
		return caller
	}
	caller.Subject = actor.subject()

	if actor.Type == ActorUser && orgID != 0 {
		if userID, err := snowflake.ParseString(actor.ID); err == nil {
			role, err := s.authzSvc.RoleForUser(c.Request.Context(), orgID, userID)
			if err == nil {
				caller.Role = role
				caller.AdminLike = authorization.AdminLike(role)
			}
		}
	}
	return caller
}

// RequireGate guards a route behind one gate key. It resolves the caller and
// the organization's entitlement snapshot, evaluates the decision function
// and denies with a machine-readable feature_not_entitled payload. An
// unknown gate key or a failed resolve denies; the guard never fails open.
//
// When enforcement is disabled the guard is a no-op passthrough: the
// decision function is never consulted.
func (s *Server) RequireGate(key string) gin.HandlerFunc {
	if !s.cfg.EnforcementEnabled {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		c.Set(contextGateKey, key)

		gate, ok := s.gates.Get().Lookup(key)
		if !ok {
			s.recordDecision(c, access.Decision{Effect: access.EffectDeny, Source: access.SourceFailClosed})
			AbortWithError(c, &EntitlementError{GateKey: key})
			return
		}

		orgID, err := s.orgIDFromRequest(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		caller := s.callerFromContext(c, orgID)
		decision := s.decideGate(c, orgID, gate, caller)
		s.recordDecision(c, decision)

		if decision.Source == access.SourceSuperuser {
			s.recordBypass(c, orgID, caller, key)
		}

		if decision.Allowed() {
			c.Next()
			return
		}

		AbortWithError(c, &EntitlementError{
			GateKey:      key,
			ModuleKey:    gate.ModuleKey,
			SubmoduleKey: gate.SubmoduleKey,
			Status:       string(decision.Status),
			Locked:       decision.Effect == access.EffectLocked,
		})
	}
}

func (s *Server) decideGate(c *gin.Context, orgID snowflake.ID, gate access.Gate, caller access.Caller) access.Decision {
	if gate.Kind != access.GateEntitlement {
		return access.Decide(nil, gate, caller)
	}

	state, err := s.entitlementSvc.Resolve(c.Request.Context(), orgID)
	if err != nil {
		// Unresolvable state fails closed.
		return access.Decide(nil, gate, caller)
	}
	return access.Decide(&state, gate, caller)
}

func (s *Server) recordDecision(c *gin.Context, decision access.Decision) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordDecision(c.Request.Context(), string(decision.Effect), string(decision.Source))
}

// recordBypass leaves an audit trail for every platform-capability bypass of
// entitlement gating. Best effort: a failed write never blocks the request.
func (s *Server) recordBypass(c *gin.Context, orgID snowflake.ID, caller access.Caller, gateKey string) {
	capability := "superuser"
	if caller.PlatformRoot {
		capability = "root"
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordBypass(c.Request.Context(), capability)
	}

	entry := auditdomain.Entry{
		OrgID:     &orgID,
		EventType: auditdomain.EventEntitlementBypass,
		Reason:    "platform capability bypass",
		Diff: map[string]any{
			"gate":       gateKey,
			"capability": capability,
			"subject":    caller.Subject,
		},
	}
	if _, err := s.auditSvc.Record(c.Request.Context(), nil, entry); err != nil {
		s.log.Warn("failed to record bypass audit event", zap.String("gate", gateKey), zap.Error(err))
	}
}
