package service

import (
	"context"

	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"
)

type clientAPI struct {
	*energylive.Client
}

// NewEnergyLiveAPI exposes an energylive client through port.EnergyLiveAPI.
func NewEnergyLiveAPI(client *energylive.Client) port.EnergyLiveAPI {
	return clientAPI{Client: client}
}

func (c clientAPI) OpenLiveStream(ctx context.Context, id string) (port.LineStream, error) {
	stream, err := c.Client.OpenLiveStream(ctx, id)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
