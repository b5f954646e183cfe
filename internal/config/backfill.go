package config

import (
	"time"

	"github.com/Swapica/order-ledger-svc/internal/batch"
	"github.com/Swapica/order-ledger-svc/internal/retry"
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type Backfill struct {
	Disabled bool

	ChunkSize          int
	IDChunkPause       time.Duration
	InfoChunkPause     time.Duration
	DecimalsChunkPause time.Duration

	Item  retry.Backoff
	Stage retry.Fixed
}

func DefaultBackfill() Backfill {
	return Backfill{
		ChunkSize:      batch.DefaultSize,
		IDChunkPause:   time.Second,
		InfoChunkPause: 5 * time.Second,
		Item: retry.Backoff{
			Retries:      3,
			InitialDelay: 10 * time.Second,
			Factor:       2,
		},
		Stage: retry.Fixed{
			Retries: 3,
			Delay:   5 * time.Second,
		},
	}
}

func (c *config) Backfill() Backfill {
	return c.backfillOnce.Do(func() interface{} {
		var cfg struct {
			Disabled           bool          `fig:"disabled"`
			ChunkSize          int           `fig:"chunk_size"`
			IDChunkPause       time.Duration `fig:"id_chunk_pause"`
			InfoChunkPause     time.Duration `fig:"info_chunk_pause"`
			DecimalsChunkPause time.Duration `fig:"decimals_chunk_pause"`
			ItemRetries        int           `fig:"item_retries"`
			ItemInitialDelay   time.Duration `fig:"item_initial_delay"`
			BackoffFactor      float64       `fig:"backoff_factor"`
			StageRetries       int           `fig:"stage_retries"`
			StageDelay         time.Duration `fig:"stage_delay"`
		}

		raw, err := kv.GetStringMap(c.getter, "backfill")
		if err != nil {
			panic(errors.Wrap(err, "failed to get backfill config"))
		}
		if err = figure.Out(&cfg).From(raw).Please(); err != nil {
			panic(errors.Wrap(err, "failed to figure out backfill"))
		}

		result := DefaultBackfill()
		result.Disabled = cfg.Disabled
		result.DecimalsChunkPause = cfg.DecimalsChunkPause
		if cfg.ChunkSize > 0 {
			result.ChunkSize = cfg.ChunkSize
		}
		if cfg.IDChunkPause > 0 {
			result.IDChunkPause = cfg.IDChunkPause
		}
		if cfg.InfoChunkPause > 0 {
			result.InfoChunkPause = cfg.InfoChunkPause
		}
		if cfg.ItemRetries > 0 {
			result.Item.Retries = cfg.ItemRetries
		}
		if cfg.ItemInitialDelay > 0 {
			result.Item.InitialDelay = cfg.ItemInitialDelay
		}
		if cfg.BackoffFactor >= 1 {
			result.Item.Factor = cfg.BackoffFactor
		}
		if cfg.StageRetries > 0 {
			result.Stage.Retries = cfg.StageRetries
		}
		if cfg.StageDelay > 0 {
			result.Stage.Delay = cfg.StageDelay
		}

		return result
	}).(Backfill)
}
