package importer

import (
	"github.com/smallbiznis/printmeter/internal/importer/metrics"
	"github.com/smallbiznis/printmeter/internal/importer/repository"
	"github.com/smallbiznis/printmeter/internal/importer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("importer",
	metrics.Module,
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
