package config

import (
	"github.com/jpalmerr/livestore"
)

// BuildOptions converts parsed configuration into SDK options for [livestore.New].
//
// The seed file is not read here; [livestore.New] reports a missing or
// malformed file when the returned options are applied.
func BuildOptions(cfg *Config) []livestore.Option {
	opts := []livestore.Option{
		livestore.WithPort(cfg.Port),
		livestore.WithKeepaliveInterval(cfg.KeepaliveInterval.Duration()),
		livestore.WithWriteTimeout(cfg.WriteTimeout.Duration()),
		livestore.WithQueueSize(cfg.QueueSize),
	}

	if cfg.SeedFile != "" {
		opts = append(opts, livestore.WithSeedFile(cfg.SeedFile))
	}

	if len(cfg.Resources) > 0 {
		opts = append(opts, livestore.WithResources(cfg.Resources...))
	}

	if cfg.Store.Driver == DriverPostgres {
		opts = append(opts, livestore.WithPostgres(cfg.Store.DSN))
	}

	return opts
}
