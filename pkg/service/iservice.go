package service

import (
	"context"

	"github.com/open-feature/flagwatch/pkg/provider"
)

// IService exposes a provider to clients until ctx is cancelled.
type IService interface {
	Serve(ctx context.Context, provider provider.IProvider) error
}
