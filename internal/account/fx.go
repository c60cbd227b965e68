package account

import (
	"github.com/tutorstack/tutorcrm/internal/account/repository"
	"github.com/tutorstack/tutorcrm/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
