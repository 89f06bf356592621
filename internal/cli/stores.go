package cli

import (
	"context"

	"github.com/iliyamo/unpacker/internal/repository"
	"github.com/iliyamo/unpacker/internal/service"
)

// stores is the persistence layer shared by serve and reap.
type stores struct {
	durable  repository.Durable
	users    *service.UserStore
	registry *service.Registry
}

// openStores dials the durable backend when the configuration asks for
// one.  A backend that cannot be reached downgrades to memory only; it is
// never fatal.
func (a *app) openStores(ctx context.Context) *stores {
	var durable repository.Durable
	if a.cfg.DurableMode() {
		d, err := repository.OpenDurable(ctx, a.cfg.DatabaseURL, a.cfg.BackendTimeout())
		if err != nil {
			a.log.Warn("durable backend unavailable, running memory only", "err", err)
		} else {
			a.log.Info("durable backend connected", "backend", d.Name())
			durable = d
		}
	} else {
		a.log.Info("no durable backend configured, running memory only")
	}

	s := &stores{durable: durable}
	userOpts := service.UserStoreOptions{
		AutoDeleteDefaultMin: a.cfg.AutoDeleteDefaultMin,
		Location:             a.cfg.Location(),
		Timeout:              a.cfg.BackendTimeout(),
		Logger:               a.log,
	}
	regOpts := service.RegistryOptions{
		Timeout: a.cfg.BackendTimeout(),
		Logger:  a.log,
	}
	if durable != nil {
		userOpts.Durable = durable
		regOpts.Durable = durable
	}
	s.users = service.NewUserStore(userOpts)
	s.registry = service.NewRegistry(regOpts)
	return s
}

func (s *stores) Close() {
	if s.durable != nil {
		_ = s.durable.Close()
	}
}
