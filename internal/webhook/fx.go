package webhook

import (
	"errors"

	"go.uber.org/fx"

	"github.com/subledger-io/subledger/internal/config"
	"github.com/subledger-io/subledger/internal/webhook/handler"
	"github.com/subledger-io/subledger/internal/webhook/repository"
	"github.com/subledger-io/subledger/internal/webhook/service"
	"github.com/subledger-io/subledger/internal/webhook/signature"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(provideVerifier),
	fx.Provide(service.NewIngest),
	fx.Provide(handler.NewDispatcher),
)

// provideVerifier fails the gateway at boot when no signing secret is
// configured. An empty secret would silently reject every delivery.
func provideVerifier(cfg config.Config) (*signature.Verifier, error) {
	if cfg.WebhookSigningSecret == "" {
		return nil, errors.New("webhook: SUBLEDGER_WEBHOOK_SIGNING_SECRET is required")
	}
	return signature.NewVerifier(cfg.WebhookSigningSecret), nil
}
