package controlapi

import (
	"context"

	"github.com/filemesh/filemesh/internal/wire"
	"github.com/filemesh/filemesh/pkg/models"
)

// RegistryConnector adapts *wire.Registry to PeerConnector, discarding
// the established *wire.Session since connect_peer's caller only needs
// success/failure.
type RegistryConnector struct {
	Registry *wire.Registry
}

func (c RegistryConnector) Connect(ctx context.Context, addr string) error {
	_, err := c.Registry.Connect(ctx, addr)
	return err
}

func (c RegistryConnector) Disconnect(node models.NodeID) error {
	return c.Registry.Disconnect(node)
}
