package service

import (
	"context"
	"log/slog"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/envelope"
)

// Notifier delivers encoded frames to connected identities.
// *registry.Registry satisfies it.
type Notifier interface {
	Send(identity string, payload []byte) error
	Broadcast(identities []string, payload []byte, exclude string) int
}

// Store persists top-level room metadata and chat. Breakout rooms are never stored.
type Store interface {
	SaveRoom(ctx context.Context, room *domain.Room) error
	LoadRoom(ctx context.Context, id string) (*domain.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	AppendChat(ctx context.Context, m domain.ChatMessage) error
}

// delivery is a broadcast collected under the room lock and sent after unlocking.
type delivery struct {
	to      []string
	exclude string
	ev      envelope.Event
}

func (r *Rooms) deliver(ds ...delivery) {
	if r.notifier == nil {
		return
	}
	for _, d := range ds {
		if len(d.to) == 0 {
			continue
		}
		payload, err := envelope.Encode(d.ev)
		if err != nil {
			slog.Error("rooms: encode event", "err", err)
			continue
		}
		r.notifier.Broadcast(d.to, payload, d.exclude)
	}
}
