package service

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/taxonomy/domain"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("taxonomy.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) ActiveCatalog(ctx context.Context) (domain.Catalog, error) {
	modules, err := s.repo.ListModules(ctx, s.db, true)
	if err != nil {
		return domain.Catalog{}, err
	}
	submodules, err := s.repo.ListSubmodules(ctx, s.db, true)
	if err != nil {
		return domain.Catalog{}, err
	}

	byModule := make(map[string][]domain.Submodule, len(modules))
	for _, sub := range submodules {
		byModule[sub.ModuleKey] = append(byModule[sub.ModuleKey], sub)
	}

	entries := make([]domain.CatalogModule, 0, len(modules))
	for _, m := range modules {
		entries = append(entries, domain.CatalogModule{
			Module:     m,
			Submodules: byModule[m.Key],
		})
	}
	return domain.NewCatalog(entries), nil
}

func (s *Service) CreateModule(ctx context.Context, req domain.CreateModuleRequest) (*domain.ModuleResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	key := normalizeKey(req.Key)
	if key == "" {
		key = slug.Make(name)
	}
	if key == "" {
		return nil, domain.ErrInvalidKey
	}

	existing, err := s.repo.FindModule(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateKey
	}

	description := strings.TrimSpace(ptrToString(req.Description))
	var descriptionPtr *string
	if description != "" {
		descriptionPtr = &description
	}

	now := s.clock.Now()
	record := &domain.Module{
		Key:         key,
		Name:        name,
		Description: descriptionPtr,
		SortOrder:   req.SortOrder,
		AlwaysOn:    req.AlwaysOn,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateModule(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateKey
		}
		return nil, err
	}

	resp := toModuleResponse(record)
	return &resp, nil
}

func (s *Service) CreateSubmodule(ctx context.Context, req domain.CreateSubmoduleRequest) (*domain.SubmoduleResponse, error) {
	moduleKey := normalizeKey(req.ModuleKey)
	if moduleKey == "" {
		return nil, domain.ErrInvalidKey
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	key := normalizeKey(req.Key)
	if key == "" {
		key = slug.Make(name)
	}
	if key == "" {
		return nil, domain.ErrInvalidKey
	}

	module, err := s.repo.FindModule(ctx, s.db, moduleKey)
	if err != nil {
		return nil, err
	}
	if module == nil || !module.Active {
		return nil, domain.ErrUnknownModule
	}

	existing, err := s.repo.FindSubmodule(ctx, s.db, moduleKey, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateKey
	}

	now := s.clock.Now()
	record := &domain.Submodule{
		ModuleKey: moduleKey,
		Key:       key,
		Name:      name,
		MenuPath:  strings.TrimSpace(req.MenuPath),
		SortOrder: req.SortOrder,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSubmodule(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateKey
		}
		return nil, err
	}

	resp := toSubmoduleResponse(record)
	return &resp, nil
}

func (s *Service) ArchiveModule(ctx context.Context, key string) (*domain.ModuleResponse, error) {
	module, err := s.repo.FindModule(ctx, s.db, normalizeKey(key))
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, domain.ErrNotFound
	}

	module.Active = false
	module.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateModule(ctx, s.db, module); err != nil {
		return nil, err
	}

	resp := toModuleResponse(module)
	return &resp, nil
}

func (s *Service) ArchiveSubmodule(ctx context.Context, moduleKey, key string) (*domain.SubmoduleResponse, error) {
	submodule, err := s.repo.FindSubmodule(ctx, s.db, normalizeKey(moduleKey), normalizeKey(key))
	if err != nil {
		return nil, err
	}
	if submodule == nil {
		return nil, domain.ErrNotFound
	}

	submodule.Active = false
	submodule.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateSubmodule(ctx, s.db, submodule); err != nil {
		return nil, err
	}

	resp := toSubmoduleResponse(submodule)
	return &resp, nil
}

func toModuleResponse(m *domain.Module) domain.ModuleResponse {
	return domain.ModuleResponse{
		Key:         m.Key,
		Name:        m.Name,
		Description: m.Description,
		SortOrder:   m.SortOrder,
		AlwaysOn:    m.AlwaysOn,
		Active:      m.Active,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toSubmoduleResponse(s *domain.Submodule) domain.SubmoduleResponse {
	return domain.SubmoduleResponse{
		ModuleKey: s.ModuleKey,
		Key:       s.Key,
		Name:      s.Name,
		MenuPath:  s.MenuPath,
		SortOrder: s.SortOrder,
		Active:    s.Active,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
