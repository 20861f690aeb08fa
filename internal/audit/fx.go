package audit

import (
	"github.com/subledger-io/subledger/internal/audit/service"
	"github.com/subledger-io/subledger/internal/outbox"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(service.NewWriter),
	fx.Provide(func(w *service.Writer) outbox.Sink { return w }),
)
