package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

type catalogModuleResponse struct {
	Key         string                     `json:"key"`
	Name        string                     `json:"name"`
	Description *string                    `json:"description,omitempty"`
	SortOrder   int                        `json:"sort_order"`
	AlwaysOn    bool                       `json:"always_on"`
	Submodules  []catalogSubmoduleResponse `json:"submodules"`
}

type catalogSubmoduleResponse struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	MenuPath  string `json:"menu_path,omitempty"`
	SortOrder int    `json:"sort_order"`
}

func (s *Server) GetCatalog(c *gin.Context) {
	catalog, err := s.taxonomySvc.ActiveCatalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	modules := make([]catalogModuleResponse, 0, len(catalog.Modules))
	for _, entry := range catalog.Modules {
		submodules := make([]catalogSubmoduleResponse, 0, len(entry.Submodules))
		for _, sub := range entry.Submodules {
			submodules = append(submodules, catalogSubmoduleResponse{
				Key:       sub.Key,
				Name:      sub.Name,
				MenuPath:  sub.MenuPath,
				SortOrder: sub.SortOrder,
			})
		}
		modules = append(modules, catalogModuleResponse{
			Key:         entry.Module.Key,
			Name:        entry.Module.Name,
			Description: entry.Module.Description,
			SortOrder:   entry.Module.SortOrder,
			AlwaysOn:    entry.Module.AlwaysOn,
			Submodules:  submodules,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": modules})
}

func (s *Server) CreateModule(c *gin.Context) {
	var req taxonomydomain.CreateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.taxonomySvc.CreateModule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveModule(c *gin.Context) {
	key := strings.TrimSpace(c.Param("module_key"))
	if key == "" {
		AbortWithError(c, newValidationError("module_key", "invalid_key", "invalid module key"))
		return
	}

	resp, err := s.taxonomySvc.ArchiveModule(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateSubmodule(c *gin.Context) {
	moduleKey := strings.TrimSpace(c.Param("module_key"))
	if moduleKey == "" {
		AbortWithError(c, newValidationError("module_key", "invalid_key", "invalid module key"))
		return
	}

	var req taxonomydomain.CreateSubmoduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ModuleKey = moduleKey

	resp, err := s.taxonomySvc.CreateSubmodule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveSubmodule(c *gin.Context) {
	moduleKey := strings.TrimSpace(c.Param("module_key"))
	key := strings.TrimSpace(c.Param("key"))
	if moduleKey == "" || key == "" {
		AbortWithError(c, newValidationError("key", "invalid_key", "invalid submodule key"))
		return
	}

	resp, err := s.taxonomySvc.ArchiveSubmodule(c.Request.Context(), moduleKey, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
