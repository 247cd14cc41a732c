package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/envelope"
)

type BreakoutParams struct {
	Name            string
	MaxParticipants int
	AllowedUsers    []string
	Duration        time.Duration
}

// Breakouts runs the breakout-room lifecycle on top of Rooms.
type Breakouts struct {
	rooms      *Rooms
	maxPerRoom int

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewBreakouts wires a coordinator to rooms. maxPerRoom <= 0 means no limit.
func NewBreakouts(rooms *Rooms, maxPerRoom int) *Breakouts {
	b := &Breakouts{
		rooms:      rooms,
		maxPerRoom: maxPerRoom,
		timers:     make(map[string]*time.Timer),
	}
	rooms.mu.Lock()
	rooms.onRemoved = b.disarm
	rooms.mu.Unlock()
	return b
}

// Create opens a breakout under parentID. The requester must be a host of the
// parent. Parent members other than the requester get breakout_room_created.
func (b *Breakouts) Create(ctx context.Context, requester domain.Identity, parentID string, p BreakoutParams) (*domain.Room, error) {
	parent, err := b.rooms.Get(parentID)
	if err != nil {
		return nil, err
	}
	if parent.IsBreakout() {
		return nil, domain.ErrNestedBreakout
	}
	if !parent.IsHost(requester) {
		return nil, domain.ErrNotAuthorized
	}

	name := p.Name
	if name == "" {
		name = fmt.Sprintf("Breakout room %d", len(parent.BreakoutIDs)+1)
	}
	settings := parent.Settings
	room, err := b.rooms.CreateRoom(ctx, CreateRoomParams{
		Name:            name,
		HostID:          parent.HostID,
		MaxParticipants: p.MaxParticipants,
		Settings:        &settings,
		ParentID:        parentID,
		AllowedUsers:    p.AllowedUsers,
		Duration:        p.Duration,
		maxSiblings:     b.maxPerRoom,
	})
	if err != nil {
		return nil, err
	}
	if p.Duration > 0 {
		b.arm(room.ID, p.Duration)
	}

	b.rooms.notifyAll(parentID, requester.ID, envelope.BreakoutCreated(*room))
	slog.Info("breakouts: created", "room", parentID, "breakout", room.ID, "by", requester.ID)
	return room, nil
}

// Join moves userID into breakoutID, leaving any sibling breakout first.
func (b *Breakouts) Join(ctx context.Context, userID, breakoutID string) error {
	r := b.rooms
	r.mu.Lock()
	ds, _, err := r.moveLocked(userID, breakoutID, false)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.deliver(ds...)
	return nil
}

// Leave takes userID out of breakoutID; it stays a member of the parent.
func (b *Breakouts) Leave(ctx context.Context, userID, breakoutID string) error {
	r := b.rooms
	r.mu.Lock()
	br, ok := r.rooms[breakoutID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if !br.meta.IsBreakout() {
		r.mu.Unlock()
		return domain.ErrNotBreakout
	}
	if _, in := br.members[userID]; !in {
		r.mu.Unlock()
		return domain.ErrNotMember
	}
	ds := r.leaveLocked(breakoutID, userID)
	if parent, ok := r.rooms[br.meta.ParentID]; ok {
		ds = append(ds, delivery{
			to:      everyone(parent),
			exclude: userID,
			ev:      envelope.UserLeftBreakout(parent.meta.ID, userID, breakoutID),
		})
	}
	r.mu.Unlock()

	r.deliver(ds...)
	return nil
}

// Close deletes breakoutID. Its members and the parent room get
// breakout_room_closed so clients can return to the main room.
func (b *Breakouts) Close(ctx context.Context, breakoutID string) error {
	room, err := b.rooms.Get(breakoutID)
	if err != nil {
		return err
	}
	if !room.IsBreakout() {
		return domain.ErrNotBreakout
	}

	members, err := b.rooms.Remove(ctx, breakoutID)
	if err != nil {
		return err
	}

	audience := append(members, b.rooms.memberIDs(room.ParentID)...)
	slices.Sort(audience)
	audience = slices.Compact(audience)
	b.rooms.deliver(delivery{to: audience, ev: envelope.BreakoutClosed(breakoutID, room.ParentID)})

	slog.Info("breakouts: closed", "room", room.ParentID, "breakout", breakoutID, "members", len(members))
	return nil
}

// CloseAs is Close on behalf of a requester that must host the breakout.
func (b *Breakouts) CloseAs(ctx context.Context, requester domain.Identity, breakoutID string) error {
	room, err := b.rooms.Get(breakoutID)
	if err != nil {
		return err
	}
	if !room.IsBreakout() {
		return domain.ErrNotBreakout
	}
	if !room.IsHost(requester) {
		return domain.ErrNotAuthorized
	}
	return b.Close(ctx, breakoutID)
}

// AutoAssign spreads unassigned parent members, hosts excluded, over the open
// breakouts round-robin. Full rooms and allow-lists are respected; members
// that fit nowhere stay in the main room.
func (b *Breakouts) AutoAssign(ctx context.Context, requester domain.Identity, parentID string) ([]domain.BreakoutAssignment, error) {
	r := b.rooms
	r.mu.Lock()
	parent, ok := r.rooms[parentID]
	if !ok {
		r.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	if parent.meta.IsBreakout() {
		r.mu.Unlock()
		return nil, domain.ErrNestedBreakout
	}
	if !parent.meta.IsHost(requester) {
		r.mu.Unlock()
		return nil, domain.ErrNotAuthorized
	}

	brs := r.breakoutsLocked(parent)
	var (
		ds      []delivery
		assigns []domain.BreakoutAssignment
		next    int
	)
	for _, uid := range orderedMembers(parent) {
		if len(brs) == 0 {
			break
		}
		if _, away := parent.assigned[uid]; away || uid == parent.meta.HostID || uid == requester.ID {
			continue
		}
		for k := range brs {
			i := (next + k) % len(brs)
			moved, a, err := r.moveLocked(uid, brs[i].meta.ID, true)
			if err != nil {
				continue
			}
			ds = append(ds, moved...)
			assigns = append(assigns, *a)
			next = i + 1
			break
		}
	}
	if len(assigns) > 0 {
		ds = append(ds, delivery{to: everyone(parent), ev: envelope.BreakoutAssignments(parentID, assigns)})
	}
	r.mu.Unlock()

	r.deliver(ds...)
	slog.Info("breakouts: auto-assigned", "room", parentID, "assigned", len(assigns))
	return assigns, nil
}

// Stop cancels every pending duration timer.
func (b *Breakouts) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}

// arm schedules the timed close of breakoutID. A breakout removed before its
// timer was stored is disarmed right away.
func (b *Breakouts) arm(breakoutID string, d time.Duration) {
	t := time.AfterFunc(d, func() {
		b.disarm([]string{breakoutID})
		if err := b.Close(context.Background(), breakoutID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			slog.Warn("breakouts: timed close", "breakout", breakoutID, "err", err)
		}
	})
	b.mu.Lock()
	b.timers[breakoutID] = t
	b.mu.Unlock()

	if _, err := b.rooms.Get(breakoutID); errors.Is(err, domain.ErrRoomNotFound) {
		b.disarm([]string{breakoutID})
	}
}

func (b *Breakouts) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

func (b *Breakouts) disarm(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if t, ok := b.timers[id]; ok {
			t.Stop()
			delete(b.timers, id)
		}
	}
}

// moveLocked places userID in breakoutID, takes it out of any sibling and
// records the assignment on the parent.
func (r *Rooms) moveLocked(userID, breakoutID string, auto bool) ([]delivery, *domain.BreakoutAssignment, error) {
	br, ok := r.rooms[breakoutID]
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	if !br.meta.IsBreakout() {
		return nil, nil, domain.ErrNotBreakout
	}
	parent, ok := r.rooms[br.meta.ParentID]
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	if _, in := parent.members[userID]; !in {
		return nil, nil, domain.ErrNotAllowed
	}
	if len(br.meta.AllowedUsers) > 0 && !slices.Contains(br.meta.AllowedUsers, userID) {
		return nil, nil, domain.ErrNotAllowed
	}
	if _, in := br.members[userID]; in {
		a, ok := parent.assigned[userID]
		if !ok {
			a = domain.BreakoutAssignment{UserID: userID, BreakoutRoomID: breakoutID, AssignedAt: time.Now().UTC(), AutoAssigned: auto}
			parent.assigned[userID] = a
		}
		return nil, &a, nil
	}
	if len(br.members) >= br.meta.MaxParticipants {
		return nil, nil, domain.ErrRoomFull
	}

	r.addMemberLocked(br, userID)
	ds := []delivery{{
		to:      conversation(br),
		exclude: userID,
		ev:      envelope.UserJoined(breakoutID, r.profileLocked(userID)),
	}}

	for _, sib := range r.breakoutsLocked(parent) {
		if sib == br {
			continue
		}
		if _, in := sib.members[userID]; !in {
			continue
		}
		r.removeMemberLocked(sib, userID)
		ds = append(ds,
			delivery{to: conversation(sib), ev: envelope.UserLeft(sib.meta.ID, userID)},
			delivery{to: everyone(parent), exclude: userID, ev: envelope.UserLeftBreakout(parent.meta.ID, userID, sib.meta.ID)},
		)
	}

	a := domain.BreakoutAssignment{
		UserID:         userID,
		BreakoutRoomID: breakoutID,
		AssignedAt:     time.Now().UTC(),
		AutoAssigned:   auto,
	}
	parent.assigned[userID] = a
	if !auto {
		ds = append(ds, delivery{
			to:      everyone(parent),
			exclude: userID,
			ev:      envelope.UserJoinedBreakout(parent.meta.ID, userID, breakoutID, br.meta.Name),
		})
	}
	return ds, &a, nil
}

// notifyAll sends ev to every member of roomID except exclude.
func (r *Rooms) notifyAll(roomID, exclude string, ev envelope.Event) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	d := delivery{to: everyone(rm), exclude: exclude, ev: ev}
	r.mu.Unlock()

	r.deliver(d)
}

func (r *Rooms) memberIDs(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return everyone(rm)
	}
	return nil
}
