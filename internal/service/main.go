package service

import (
	"context"
	"time"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/config"
	"github.com/Swapica/order-ledger-svc/internal/data/postgres"
	"github.com/Swapica/order-ledger-svc/internal/metrics"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
	"gitlab.com/distributed_lab/running"
)

type service struct {
	log      *logan.Entry
	cfg      config.Config
	metrics  *metrics.Metrics
	backfill *Backfill
	listener *Listener
}

func newService(cfg config.Config) *service {
	log := cfg.Log()
	network := cfg.Network()
	m := metrics.New()
	db := cfg.DB()

	ledger := NewLedger(postgres.NewOrders(db), postgres.NewUsers(db), postgres.NewRefreshTokens(db))
	decimals := chain.NewTokenDecimals(network.Client)
	ingestor := NewIngestor(log, network.Client, decimals, ledger, cfg.Ingestor(), m)
	block := postgres.NewLastBlock(db, canonicalAddress(network.ContractAddress))

	return &service{
		log:      log,
		cfg:      cfg,
		metrics:  m,
		backfill: NewBackfill(log, network.Client, decimals, ledger, cfg.Backfill(), m),
		listener: NewListener(log, network.Client, ingestor, block, network.BlockRange, cfg.Ingestor().Concurrency),
	}
}

func (s *service) run(ctx context.Context) {
	s.log.Info("Service started")

	if addr := s.cfg.Metrics().Addr; addr != "" {
		go func() {
			if err := s.metrics.Serve(ctx, s.log, addr); err != nil {
				s.log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	if s.cfg.Backfill().Disabled {
		s.log.Info("backfill is disabled")
	} else {
		go s.runBackfill(ctx)
	}

	running.WithBackOff(ctx, s.log, "listener", s.listener.Run, time.Second, time.Second, time.Minute)
}

func (s *service) runBackfill(ctx context.Context) {
	tally, err := s.backfill.Run(ctx)
	if err != nil {
		s.log.WithError(err).Error("backfill aborted, live ingestion continues")
		return
	}
	s.log.WithFields(tally.fields()).Info("backfill finished")
}

// Run serves live ingestion until ctx is done, with the backfill started once in the background.
func Run(ctx context.Context, cfg config.Config) {
	newService(cfg).run(ctx)
}

// RunBackfill runs the backfill once in the foreground.
func RunBackfill(ctx context.Context, cfg config.Config) error {
	s := newService(cfg)
	tally, err := s.backfill.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "backfill failed")
	}
	s.log.WithFields(tally.fields()).Info("backfill finished")
	return nil
}
