package fixedasset

import (
	"github.com/smallbiznis/glcore/internal/fixedasset/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fixedasset.service",
	fx.Provide(service.NewService),
)
