package app

import (
	"reportsched/internal/config"
	"reportsched/internal/delivery"
	"reportsched/internal/dispatcher"
	"reportsched/internal/storage"
	logx "reportsched/pkg/logx"
)

// Components is the service graph shared by the daemon and the CLI.
type Components struct {
	Store      storage.Store
	Delivery   *delivery.Service
	Dispatcher *dispatcher.Service
}

// Build opens the store and wires delivery and the dispatcher on top of it.
func Build(cfg *config.Config, log logx.Logger) (*Components, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	dpc, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	del := delivery.New(dc, log)
	disp := dispatcher.New(dpc, st, del, log)
	return &Components{Store: st, Delivery: del, Dispatcher: disp}, nil
}

func (c *Components) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Apply pushes a reloaded config into the live services. Storage settings
// need a restart.
func (c *Components) Apply(cfg *config.Config) error {
	dc, err := mapDeliveryConfig(cfg)
	if err != nil {
		return err
	}
	dpc, err := mapDispatcherConfig(cfg)
	if err != nil {
		return err
	}
	c.Delivery.Apply(dc)
	c.Dispatcher.Apply(dpc)
	return nil
}
