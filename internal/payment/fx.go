package payment

import (
	"github.com/tutorstack/tutorcrm/internal/payment/gateway/yookassa"
	"github.com/tutorstack/tutorcrm/internal/payment/repository"
	"github.com/tutorstack/tutorcrm/internal/payment/service"
	"github.com/tutorstack/tutorcrm/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(yookassa.NewClient),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
