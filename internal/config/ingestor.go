package config

import (
	"time"

	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type Ingestor struct {
	MatchRetries   int
	MatchRetryStep time.Duration
	// Concurrency caps live handlers in flight
	Concurrency int
}

func DefaultIngestor() Ingestor {
	return Ingestor{
		MatchRetries:   3,
		MatchRetryStep: 100 * time.Millisecond,
		Concurrency:    16,
	}
}

func (c *config) Ingestor() Ingestor {
	return c.ingestorOnce.Do(func() interface{} {
		var cfg struct {
			MatchRetries   int           `fig:"match_retries"`
			MatchRetryStep time.Duration `fig:"match_retry_step"`
			Concurrency    int           `fig:"concurrency"`
		}

		raw, err := kv.GetStringMap(c.getter, "ingestor")
		if err != nil {
			panic(errors.Wrap(err, "failed to get ingestor config"))
		}
		if err = figure.Out(&cfg).From(raw).Please(); err != nil {
			panic(errors.Wrap(err, "failed to figure out ingestor"))
		}

		result := DefaultIngestor()
		if cfg.MatchRetries > 0 {
			result.MatchRetries = cfg.MatchRetries
		}
		if cfg.MatchRetryStep > 0 {
			result.MatchRetryStep = cfg.MatchRetryStep
		}
		if cfg.Concurrency > 0 {
			result.Concurrency = cfg.Concurrency
		}
		return result
	}).(Ingestor)
}
