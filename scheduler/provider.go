package scheduler

import (
	"context"
	"time"

	"github.com/google/wire"
)

// ProviderSet is the scheduler providers.
var ProviderSet = wire.NewSet(ProvideScheduler)

// ProvideScheduler creates and starts a scheduler, returning a cleanup
// function that stops it.
func ProvideScheduler(cfg *Config) (*Scheduler, func(), error) {
	s, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	s.Start()

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Stop(ctx)
	}
	return s, cleanup, nil
}
