package entitlement

import (
	"go.uber.org/fx"

	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/entitlement/repository"
	"github.com/smallbiznis/featuregate/internal/entitlement/service"
	"github.com/smallbiznis/featuregate/internal/invalidation"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
		func(s entitlementdomain.Service) invalidation.Target { return s },
	),
)
