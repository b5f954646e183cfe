package config

import (
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type Metrics struct {
	// Addr is where /metrics is served; empty disables the listener
	Addr string `fig:"addr"`
}

func (c *config) Metrics() Metrics {
	return c.metricsOnce.Do(func() interface{} {
		var cfg Metrics

		raw, err := kv.GetStringMap(c.getter, "metrics")
		if err != nil {
			panic(errors.Wrap(err, "failed to get metrics config"))
		}
		err = figure.Out(&cfg).
			With(figure.BaseHooks).
			From(raw).
			Please()
		if err != nil {
			panic(errors.Wrap(err, "failed to figure out metrics"))
		}
		return cfg
	}).(Metrics)
}
