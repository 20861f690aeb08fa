package organization

import (
	"github.com/subledger-io/subledger/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization",
	fx.Provide(service.NewService),
)
