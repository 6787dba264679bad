package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/featuregate/internal/access"
)

type menuItem struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MenuPath string `json:"menu_path,omitempty"`
	Locked   bool   `json:"locked,omitempty"`
}

type menuSection struct {
	Key    string     `json:"key"`
	Name   string     `json:"name"`
	Locked bool       `json:"locked,omitempty"`
	Trial  bool       `json:"trial,omitempty"`
	Items  []menuItem `json:"items"`
}

// GetMenu returns the navigation tree an organization's user should see:
// entitled nodes, plus locked placeholders for admin-like roles. Disabled
// features are absent for everyone else.
func (s *Server) GetMenu(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	catalog, err := s.taxonomySvc.ActiveCatalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	state, err := s.entitlementSvc.Resolve(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Menu gating is a UI concern regardless of how the request arrived.
	caller := s.callerFromContext(c, orgID)
	caller.Surface = access.SurfaceUI

	sections := make([]menuSection, 0, len(catalog.Modules))
	for _, entry := range catalog.Modules {
		moduleGate := access.Gate{
			Key:       entry.Module.Key,
			ModuleKey: entry.Module.Key,
			Kind:      access.GateEntitlement,
		}
		if entry.Module.AlwaysOn {
			moduleGate.Kind = access.GateAlwaysOn
		}

		moduleDecision := access.Decide(&state, moduleGate, caller)
		if !moduleDecision.Allowed() && moduleDecision.Effect != access.EffectLocked {
			continue
		}

		section := menuSection{
			Key:    entry.Module.Key,
			Name:   entry.Module.Name,
			Locked: moduleDecision.Effect == access.EffectLocked,
			Trial:  moduleDecision.Trial,
			Items:  make([]menuItem, 0, len(entry.Submodules)),
		}

		for _, sub := range entry.Submodules {
			subGate := access.Gate{
				Key:          entry.Module.Key + "." + sub.Key,
				ModuleKey:    entry.Module.Key,
				SubmoduleKey: sub.Key,
				Kind:         moduleGate.Kind,
			}
			subDecision := access.Decide(&state, subGate, caller)
			if !subDecision.Allowed() && subDecision.Effect != access.EffectLocked {
				continue
			}
			section.Items = append(section.Items, menuItem{
				Key:      sub.Key,
				Name:     sub.Name,
				MenuPath: sub.MenuPath,
				Locked:   section.Locked || subDecision.Effect == access.EffectLocked,
			})
		}

		sections = append(sections, section)
	}

	c.JSON(http.StatusOK, gin.H{"data": sections})
}
