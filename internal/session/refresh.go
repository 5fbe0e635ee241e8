package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunProfileRefresher keeps the cached profile fresh until ctx is done.
// It refreshes once immediately and then on every tick while logged in.
func (s *Store) RunProfileRefresher(ctx context.Context, interval time.Duration) error {
	refresh := func() {
		if !s.State().LoggedIn() {
			return
		}
		log.Debug().Msg("refreshing cached user info")
		s.RefreshUserInfo(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.HydratedCh():
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping profile refresher")
			return ctx.Err()
		case <-ticker.C:
			refresh()
		}
	}
}
