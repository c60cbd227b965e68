package ledger

import (
	"github.com/tutorstack/tutorcrm/internal/ledger/repository"
	"github.com/tutorstack/tutorcrm/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
