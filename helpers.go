package meshsub

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/meshsub/wire"
)

func peerID() (wire.PeerID, error) {
	var id wire.PeerID
	_, err := rand.Read(id[:])
	if err != nil {
		return wire.PeerID{}, errors.WithStack(err)
	}
	return id, nil
}

func runHeartbeat(ctx context.Context, interval time.Duration, fn func(now time.Time)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case now := <-ticker.C:
			fn(now)
		}
	}
}
