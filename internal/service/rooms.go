package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/security"
)

type Options struct {
	MaxParticipants int // default and upper bound for new rooms
	ChatRetention   int // per-room chat log bound, 0 keeps everything
	MaxMessageLen   int // runes
	Bcrypt          *security.BcryptConfig
}

func (o *Options) withDefaults() {
	if o.MaxParticipants <= 0 {
		o.MaxParticipants = 50
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = 4000
	}
	if o.ChatRetention < 0 {
		o.ChatRetention = 0
	}
}

type member struct {
	joinedAt time.Time
	seq      uint64
}

type room struct {
	meta      domain.Room
	members   map[string]member
	breakouts map[string]struct{}
	// assigned maps parent members to the breakout they currently sit in.
	assigned map[string]domain.BreakoutAssignment
	chat     []domain.ChatMessage
}

func newRoom(meta domain.Room) *room {
	meta.Participants = nil
	meta.BreakoutIDs = nil
	return &room{
		meta:      meta,
		members:   make(map[string]member),
		breakouts: make(map[string]struct{}),
		assigned:  make(map[string]domain.BreakoutAssignment),
	}
}

// Rooms is the in-memory authority for room membership, metadata, chat and
// breakout assignments. All state sits behind one mutex; frames are handed to
// the notifier only after it is released.
type Rooms struct {
	mu       sync.Mutex
	rooms    map[string]*room
	memberOf map[string]map[string]struct{}
	profiles map[string]domain.ParticipantInfo
	media    map[string]domain.MediaState
	seq      uint64

	notifier  Notifier
	store     Store
	opts      Options
	onRemoved func(ids []string)
}

// NewRooms builds the room state. store may be nil.
func NewRooms(notifier Notifier, store Store, opts Options) *Rooms {
	opts.withDefaults()
	return &Rooms{
		rooms:    make(map[string]*room),
		memberOf: make(map[string]map[string]struct{}),
		profiles: make(map[string]domain.ParticipantInfo),
		media:    make(map[string]domain.MediaState),
		notifier: notifier,
		store:    store,
		opts:     opts,
	}
}

type CreateRoomParams struct {
	Name            string
	HostID          string
	MaxParticipants int
	Password        string
	Settings        *domain.RoomSettings
	ParentID        string
	AllowedUsers    []string
	Duration        time.Duration

	// maxSiblings caps the breakouts of ParentID, 0 means no cap.
	maxSiblings int
}

// CreateRoom registers a new room. Top-level rooms are written through to the
// store when one is configured and a store failure aborts the creation.
func (r *Rooms) CreateRoom(ctx context.Context, p CreateRoomParams) (*domain.Room, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, domain.ErrInvalidRoomName
	}

	limit := p.MaxParticipants
	if limit <= 0 || limit > r.opts.MaxParticipants {
		limit = r.opts.MaxParticipants
	}

	meta := domain.Room{
		ID:              uuid.NewString(),
		Name:            name,
		HostID:          p.HostID,
		Status:          domain.RoomActive,
		MaxParticipants: limit,
		ParentID:        p.ParentID,
		AllowedUsers:    slices.Clone(p.AllowedUsers),
		Duration:        p.Duration,
		Settings:        domain.DefaultRoomSettings(),
		CreatedAt:       time.Now().UTC(),
	}
	if p.Settings != nil {
		meta.Settings = *p.Settings
	}
	if p.Password != "" {
		hash, err := security.HashPassword(p.Password, r.opts.Bcrypt)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		meta.PasswordHash = hash
		meta.HasPassword = true
	}

	if meta.ParentID != "" {
		return r.createBreakout(meta, p.maxSiblings)
	}

	if r.store != nil {
		if err := r.store.SaveRoom(ctx, &meta); err != nil {
			return nil, fmt.Errorf("store.SaveRoom: %w", err)
		}
	}

	r.mu.Lock()
	rm := newRoom(meta)
	r.rooms[meta.ID] = rm
	out := r.snapshot(rm)
	r.mu.Unlock()

	return &out, nil
}

func (r *Rooms) createBreakout(meta domain.Room, maxSiblings int) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.rooms[meta.ParentID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if parent.meta.IsBreakout() {
		return nil, domain.ErrNestedBreakout
	}
	if !parent.meta.Settings.AllowBreakoutRooms {
		return nil, domain.ErrFeatureDisabled
	}
	if maxSiblings > 0 && len(parent.breakouts) >= maxSiblings {
		return nil, domain.ErrTooManyBreakouts
	}

	rm := newRoom(meta)
	r.rooms[meta.ID] = rm
	parent.breakouts[meta.ID] = struct{}{}

	out := r.snapshot(rm)
	return &out, nil
}

// Get returns a copy of the room.
func (r *Rooms) Get(roomID string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := r.snapshot(rm)
	return &out, nil
}

// IsMember reports whether userID currently belongs to roomID.
func (r *Rooms) IsMember(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = rm.members[userID]
	return ok
}

// Participants lists the members of a room ordered by join time.
func (r *Rooms) Participants(roomID string) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	out := make([]domain.Participant, 0, len(rm.members))
	for _, id := range orderedMembers(rm) {
		p := domain.Participant{
			ParticipantInfo: r.profileLocked(id),
			MediaState:      r.mediaLocked(id),
			JoinedAt:        rm.members[id].joinedAt,
		}
		if a, ok := rm.assigned[id]; ok {
			p.BreakoutRoomID = a.BreakoutRoomID
		}
		out = append(out, p)
	}
	return out, nil
}

// Chat returns the most recent limit messages in chronological order.
// limit <= 0 returns the whole retained log.
func (r *Rooms) Chat(roomID string, limit int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	msgs := rm.chat
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

// RoomsOf returns the rooms identity currently belongs to.
func (r *Rooms) RoomsOf(identity string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.memberOf[identity]))
	for id := range r.memberOf[identity] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// List returns every top-level room, oldest first.
func (r *Rooms) List() []domain.RoomSummary {
	return r.summaries(false)
}

// ActiveRooms returns top-level rooms that currently have members.
func (r *Rooms) ActiveRooms() []domain.RoomSummary {
	return r.summaries(true)
}

func (r *Rooms) summaries(activeOnly bool) []domain.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RoomSummary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		if rm.meta.IsBreakout() {
			continue
		}
		if activeOnly && len(rm.members) == 0 {
			continue
		}
		out = append(out, domain.RoomSummary{Room: r.snapshot(rm), ActiveParticipants: len(rm.members)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Breakouts returns the breakout rooms of parentID, oldest first.
func (r *Rooms) Breakouts(parentID string) ([]domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.rooms[parentID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	out := make([]domain.Room, 0, len(parent.breakouts))
	for _, b := range r.breakoutsLocked(parent) {
		out = append(out, r.snapshot(b))
	}
	return out, nil
}

func (r *Rooms) Stats() domain.RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st domain.RoomStats
	for _, rm := range r.rooms {
		st.TotalRooms++
		if rm.meta.IsBreakout() {
			st.BreakoutRooms++
			continue
		}
		if len(rm.members) > 0 {
			st.ActiveRooms++
		}
		st.TotalParticipants += len(rm.members)
	}
	return st
}

// SetProfile records the display data of an identity.
func (r *Rooms) SetProfile(info domain.ParticipantInfo) {
	if info.ID == "" {
		return
	}
	r.mu.Lock()
	r.setProfileLocked(info)
	r.mu.Unlock()
}

func (r *Rooms) Profile(identity string) (domain.ParticipantInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[identity]
	return p, ok
}

func (r *Rooms) setProfileLocked(info domain.ParticipantInfo) {
	cur, ok := r.profiles[info.ID]
	if ok {
		if info.Name == "" {
			info.Name = cur.Name
		}
		if info.Email == "" {
			info.Email = cur.Email
		}
		if info.Avatar == "" {
			info.Avatar = cur.Avatar
		}
		if info.Role == "" {
			info.Role = cur.Role
		}
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	if info.Role == "" {
		info.Role = domain.RoleParticipant
	}
	r.profiles[info.ID] = info
}

func (r *Rooms) profileLocked(id string) domain.ParticipantInfo {
	if p, ok := r.profiles[id]; ok {
		return p
	}
	return domain.ParticipantInfo{ID: id, Name: id, Role: domain.RoleParticipant}
}

func (r *Rooms) mediaLocked(id string) domain.MediaState {
	if m, ok := r.media[id]; ok {
		return m
	}
	return domain.DefaultMediaState()
}

func (r *Rooms) snapshot(rm *room) domain.Room {
	out := rm.meta
	out.Participants = orderedMembers(rm)
	out.BreakoutIDs = make([]string, 0, len(rm.breakouts))
	for _, b := range r.breakoutsLocked(rm) {
		out.BreakoutIDs = append(out.BreakoutIDs, b.meta.ID)
	}
	out.AllowedUsers = slices.Clone(rm.meta.AllowedUsers)
	return out
}

func (r *Rooms) breakoutsLocked(parent *room) []*room {
	out := make([]*room, 0, len(parent.breakouts))
	for id := range parent.breakouts {
		if b, ok := r.rooms[id]; ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].meta.CreatedAt.Equal(out[j].meta.CreatedAt) {
			return out[i].meta.ID < out[j].meta.ID
		}
		return out[i].meta.CreatedAt.Before(out[j].meta.CreatedAt)
	})
	return out
}

func orderedMembers(rm *room) []string {
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return rm.members[ids[i]].seq < rm.members[ids[j]].seq })
	return ids
}

// conversation is the audience of chat, media and presence frames. Parent
// members that sit in a breakout are left out.
func conversation(rm *room) []string {
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		if _, away := rm.assigned[id]; away {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// everyone is the audience of lifecycle frames.
func everyone(rm *room) []string {
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	return ids
}
