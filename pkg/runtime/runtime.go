package runtime

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/open-feature/flagwatch/pkg/provider"
	"github.com/open-feature/flagwatch/pkg/service"
)

// Start initialises the provider, serves it through every service until ctx
// is cancelled or a service fails, and closes the provider once all
// services have returned.
func Start(ctx context.Context, p provider.IProvider, services ...service.IService) error {
	if err := p.Initialize(); err != nil {
		return fmt.Errorf("unable to initialise provider: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Error("unable to close provider")
			return
		}
		log.Info("Closed provider")
	}()

	g, gCtx := errgroup.WithContext(ctx)
	for _, s := range services {
		s := s
		g.Go(func() error {
			return s.Serve(gCtx, p)
		})
	}
	return g.Wait()
}
