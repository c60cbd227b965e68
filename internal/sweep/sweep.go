package sweep

import (
	"context"

	"github.com/tutorstack/tutorcrm/internal/observability"
	"github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sweep",
	fx.Provide(NewService),
)

// Report summarizes one reconciliation pass.
type Report struct {
	Checked  int `json:"checked"`
	Updated  int `json:"updated"`
	Settled  int `json:"settled"`
	Canceled int `json:"canceled"`
	Errors   int `json:"errors"`
}

type Params struct {
	fx.In

	Lifecycle domain.Service
	Gateway   domain.Gateway
	Log       *zap.Logger
	Metrics   *observability.Metrics
}

type Service struct {
	lifecycle domain.Service
	gateway   domain.Gateway
	log       *zap.Logger
	metrics   *observability.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		lifecycle: p.Lifecycle,
		gateway:   p.Gateway,
		log:       p.Log.Named("sweep"),
		metrics:   p.Metrics,
	}
}

// Sweep re-queries the gateway for every in-flight payment and repairs local
// state drift. Dry run classifies identically but persists nothing and sends
// no notifications. Per-record failures are counted and never abort the batch.
func (s *Service) Sweep(ctx context.Context, dryRun bool) (Report, error) {
	pending, err := s.lifecycle.ListInFlight(ctx)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for i := range pending {
		p := &pending[i]
		rep.Checked++

		charge, err := s.gateway.GetCharge(ctx, p.GatewayID)
		if err != nil {
			rep.Errors++
			s.log.Warn("sweep: gateway query failed",
				zap.String("gateway_id", p.GatewayID),
				zap.Error(err))
			continue
		}

		switch charge.Status {
		case domain.RemoteSucceeded:
			rep.Updated++
			rep.Settled++
		case domain.RemoteCanceled:
			rep.Updated++
			rep.Canceled++
		default:
			continue
		}

		if dryRun {
			continue
		}
		if _, err := s.lifecycle.ApplyRemoteStatus(ctx, p, charge.Status, charge.PaymentMethod); err != nil {
			// Revert the optimistic classification: the write failed.
			rep.Updated--
			if charge.Status == domain.RemoteSucceeded {
				rep.Settled--
			} else {
				rep.Canceled--
			}
			rep.Errors++
			s.log.Error("sweep: transition failed",
				zap.String("gateway_id", p.GatewayID),
				zap.Error(err))
			continue
		}
		s.metrics.SweepResultsTotal.WithLabelValues(charge.Status).Inc()
	}

	s.log.Info("sweep complete",
		zap.Bool("dry_run", dryRun),
		zap.Int("checked", rep.Checked),
		zap.Int("updated", rep.Updated),
		zap.Int("settled", rep.Settled),
		zap.Int("canceled", rep.Canceled),
		zap.Int("errors", rep.Errors))
	return rep, nil
}
