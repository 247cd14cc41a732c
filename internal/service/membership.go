package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/envelope"
	"github.com/cwrk-planet/signaling-service/internal/security"
)

// Join admits info.ID into the top-level room roomID. joined is false when the
// identity already was a member, in which case nothing is broadcast. Breakout
// rooms are refused with domain.ErrBreakoutJoin.
func (r *Rooms) Join(ctx context.Context, roomID string, info domain.ParticipantInfo, password string) (joined bool, err error) {
	if err := r.ensureLoaded(ctx, roomID); err != nil {
		return false, err
	}
	who := domain.Identity{ID: info.ID, Name: info.Name, Role: info.Role}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return false, domain.ErrRoomNotFound
	}
	if rm.meta.IsBreakout() {
		// allow-lists, parent membership and sibling moves live in Breakouts.Join
		r.mu.Unlock()
		return false, domain.ErrBreakoutJoin
	}
	if _, in := rm.members[info.ID]; in {
		r.setProfileLocked(info)
		r.mu.Unlock()
		return false, nil
	}
	if rm.meta.IsLocked && !rm.meta.IsHost(who) {
		r.mu.Unlock()
		return false, domain.ErrRoomLocked
	}
	var hash string
	if !rm.meta.IsHost(who) {
		hash = rm.meta.PasswordHash
	}
	r.mu.Unlock()

	if hash != "" {
		if err := security.ComparePassword(hash, password); err != nil {
			return false, domain.ErrInvalidPassword
		}
	}

	r.mu.Lock()
	rm, ok = r.rooms[roomID]
	switch {
	case !ok:
		r.mu.Unlock()
		return false, domain.ErrRoomNotFound
	case rm.meta.IsLocked && !rm.meta.IsHost(who):
		r.mu.Unlock()
		return false, domain.ErrRoomLocked
	case !rm.meta.IsHost(who) && rm.meta.PasswordHash != hash:
		// password changed while we were comparing
		r.mu.Unlock()
		return false, domain.ErrInvalidPassword
	}
	if _, in := rm.members[info.ID]; in {
		r.setProfileLocked(info)
		r.mu.Unlock()
		return false, nil
	}
	if len(rm.members) >= rm.meta.MaxParticipants {
		r.mu.Unlock()
		return false, domain.ErrRoomFull
	}

	r.addMemberLocked(rm, info.ID)
	r.setProfileLocked(info)
	st, seen := r.media[info.ID]
	if !seen {
		st = domain.DefaultMediaState()
	}
	if rm.meta.Settings.MuteOnJoin {
		st.AudioEnabled = false
	}
	r.media[info.ID] = st

	d := delivery{
		to:      conversation(rm),
		exclude: info.ID,
		ev:      envelope.UserJoined(roomID, r.profileLocked(info.ID)),
	}
	r.mu.Unlock()

	r.deliver(d)
	return true, nil
}

// ensureLoaded recovers room metadata created elsewhere from the store.
func (r *Rooms) ensureLoaded(ctx context.Context, roomID string) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	_, ok := r.rooms[roomID]
	r.mu.Unlock()
	if ok {
		return nil
	}

	meta, err := r.store.LoadRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.ErrRoomNotFound
		}
		return fmt.Errorf("store.LoadRoom: %w", err)
	}
	if meta.Status == domain.RoomEnded || meta.IsBreakout() {
		return domain.ErrRoomNotFound
	}
	if meta.MaxParticipants <= 0 {
		meta.MaxParticipants = r.opts.MaxParticipants
	}
	if meta.Status == "" {
		meta.Status = domain.RoomActive
	}
	meta.HasPassword = meta.PasswordHash != ""

	r.mu.Lock()
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = newRoom(*meta)
		slog.Info("rooms: recovered from store", "room", roomID)
	}
	r.mu.Unlock()
	return nil
}

// Leave removes userID from roomID. Leaving a parent room also leaves its
// breakouts. Unknown rooms and non-members are a no-op.
func (r *Rooms) Leave(ctx context.Context, roomID, userID string) error {
	r.mu.Lock()
	ds := r.leaveLocked(roomID, userID)
	r.mu.Unlock()

	r.deliver(ds...)
	return nil
}

// LeaveAll removes identity from every room it belongs to and forgets its
// profile and media state. It returns the rooms that were left.
func (r *Rooms) LeaveAll(ctx context.Context, identity string) []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.memberOf[identity]))
	for id := range r.memberOf[identity] {
		ids = append(ids, id)
	}
	// parents first, so breakout exits are reported once
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := r.rooms[ids[i]].meta.IsBreakout(), r.rooms[ids[j]].meta.IsBreakout()
		if bi != bj {
			return !bi
		}
		return ids[i] < ids[j]
	})

	var ds []delivery
	for _, id := range ids {
		ds = append(ds, r.leaveLocked(id, identity)...)
	}
	delete(r.profiles, identity)
	delete(r.media, identity)
	r.mu.Unlock()

	r.deliver(ds...)
	return ids
}

func (r *Rooms) leaveLocked(roomID, userID string) []delivery {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	if _, in := rm.members[userID]; !in {
		return nil
	}

	var ds []delivery
	for _, b := range r.breakoutsLocked(rm) {
		if _, in := b.members[userID]; !in {
			continue
		}
		r.removeMemberLocked(b, userID)
		ds = append(ds, delivery{to: conversation(b), ev: envelope.UserLeft(b.meta.ID, userID)})
	}

	delete(rm.assigned, userID)
	r.removeMemberLocked(rm, userID)
	if rm.meta.IsBreakout() {
		if parent, ok := r.rooms[rm.meta.ParentID]; ok {
			if a, ok := parent.assigned[userID]; ok && a.BreakoutRoomID == roomID {
				delete(parent.assigned, userID)
			}
		}
	}

	return append(ds, delivery{to: conversation(rm), ev: envelope.UserLeft(roomID, userID)})
}

// DeleteRoom ends roomID and every breakout under it. Members of each removed
// room receive room_ended.
func (r *Rooms) DeleteRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRoomNotFound
	}

	var ds []delivery
	removed := make([]string, 0, len(rm.breakouts)+1)
	for _, b := range r.breakoutsLocked(rm) {
		members := r.removeLocked(b)
		ds = append(ds, delivery{to: members, ev: envelope.RoomEnded(b.meta.ID)})
		removed = append(removed, b.meta.ID)
	}
	members := r.removeLocked(rm)
	ds = append(ds, delivery{to: members, ev: envelope.RoomEnded(roomID)})
	removed = append(removed, roomID)
	topLevel := !rm.meta.IsBreakout()
	hook := r.onRemoved
	r.mu.Unlock()

	r.deliver(ds...)
	if hook != nil {
		hook(removed)
	}
	if topLevel {
		r.forget(ctx, roomID)
	}

	slog.Info("rooms: deleted", "room", roomID, "cascade", len(removed)-1)
	return nil
}

// Remove drops roomID (and silently any breakouts under it) without notifying
// anyone and returns the members it had.
func (r *Rooms) Remove(ctx context.Context, roomID string) ([]string, error) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}

	removed := []string{roomID}
	for _, b := range r.breakoutsLocked(rm) {
		r.removeLocked(b)
		removed = append(removed, b.meta.ID)
	}
	members := r.removeLocked(rm)
	topLevel := !rm.meta.IsBreakout()
	hook := r.onRemoved
	r.mu.Unlock()

	if hook != nil {
		hook(removed)
	}
	if topLevel {
		r.forget(ctx, roomID)
	}
	return members, nil
}

func (r *Rooms) forget(ctx context.Context, roomID string) {
	if r.store == nil {
		return
	}
	if err := r.store.DeleteRoom(ctx, roomID); err != nil {
		slog.Warn("rooms: store delete", "room", roomID, "err", err)
	}
}

// removeLocked unlinks rm from the index and returns its former members.
// Breakouts of rm must already be gone.
func (r *Rooms) removeLocked(rm *room) []string {
	members := orderedMembers(rm)
	for _, id := range members {
		r.removeMemberLocked(rm, id)
	}
	if rm.meta.IsBreakout() {
		if parent, ok := r.rooms[rm.meta.ParentID]; ok {
			delete(parent.breakouts, rm.meta.ID)
			for uid, a := range parent.assigned {
				if a.BreakoutRoomID == rm.meta.ID {
					delete(parent.assigned, uid)
				}
			}
		}
	}
	rm.meta.Status = domain.RoomEnded
	delete(r.rooms, rm.meta.ID)
	return members
}

func (r *Rooms) addMemberLocked(rm *room, id string) {
	r.seq++
	rm.members[id] = member{joinedAt: time.Now().UTC(), seq: r.seq}
	set, ok := r.memberOf[id]
	if !ok {
		set = make(map[string]struct{})
		r.memberOf[id] = set
	}
	set[rm.meta.ID] = struct{}{}
}

func (r *Rooms) removeMemberLocked(rm *room, id string) {
	delete(rm.members, id)
	if set, ok := r.memberOf[id]; ok {
		delete(set, rm.meta.ID)
		if len(set) == 0 {
			delete(r.memberOf, id)
		}
	}
}
