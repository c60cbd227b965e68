package bot

import (
	"github.com/tutorstack/tutorcrm/internal/bot/session"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("bot",
	fx.Provide(
		telegram.NewClient,
		session.NewStore,
		NewHandler,
		fx.Annotate(NewNotifier, fx.As(new(paymentdomain.Notifier))),
	),
)
