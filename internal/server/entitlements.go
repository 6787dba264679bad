package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/featuregate/internal/access"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
)

type applyEntitlementsRequest struct {
	Reason         string                              `json:"reason"`
	IdempotencyKey string                              `json:"idempotency_key"`
	Source         string                              `json:"source"`
	Modules        []entitlementdomain.ModuleChange    `json:"modules"`
	Submodules     []entitlementdomain.SubmoduleChange `json:"submodules"`
}

type resetEntitlementsRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) GetEntitlements(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	state, err := s.entitlementSvc.Resolve(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	caller := s.callerFromContext(c, orgID)
	decisions := make(map[string]access.Decision)
	table := s.gates.Get()
	for _, gate := range table.Gates() {
		decisions[gate.Key] = access.Decide(&state, gate, caller)
	}

	c.JSON(http.StatusOK, gin.H{"data": state, "decisions": decisions})
}

func (s *Server) ApplyEntitlements(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req applyEntitlementsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, ok := s.actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.entitlementSvc.ApplyDiff(c.Request.Context(), entitlementdomain.ApplyDiffRequest{
		OrgID:          orgID,
		Actor:          domainActor(actor),
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		Source:         strings.TrimSpace(req.Source),
		Modules:        req.Modules,
		Submodules:     req.Submodules,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ResetEntitlements disables everything an organization has rows for. The
// platform-superuser capability is deliberately insufficient here.
func (s *Server) ResetEntitlements(c *gin.Context) {
	if !c.GetBool(contextRootKey) {
		AbortWithError(c, ErrForbidden)
		return
	}

	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resetEntitlementsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, ok := s.actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.entitlementSvc.Reset(c.Request.Context(), orgID, domainActor(actor), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func domainActor(actor Actor) entitlementdomain.Actor {
	out := entitlementdomain.Actor{Type: string(actor.Type)}
	if actor.Type != ActorSystem && actor.ID != "" {
		id := actor.ID
		out.ID = &id
	}
	return out
}
