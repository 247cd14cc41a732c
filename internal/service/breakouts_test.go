package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
)

// Lifecycle: create, two joins, breakout, delete. A member sitting in a
// breakout keeps getting lifecycle frames of the parent but no conversation.
func TestBreakoutLifecycleScenario(t *testing.T) {
	r, rec := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	ctx := context.Background()

	room := mustCreate(t, r, CreateRoomParams{Name: "standup", HostID: "host1"})
	mustJoin(t, r, room.ID, "host1")
	mustJoin(t, r, room.ID, "alice")

	joined := rec.find("host1", "user_joined")
	if len(joined) != 1 || joined[0]["user_id"] != "alice" {
		t.Fatalf("host1 user_joined = %v", joined)
	}

	group, err := b.Create(ctx, domain.Identity{ID: "host1"}, room.ID, BreakoutParams{Name: "group-a", MaxParticipants: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.find("alice", "breakout_room_created")) != 1 {
		t.Fatal("alice did not hear about the breakout")
	}
	if err := b.Join(ctx, "alice", group.ID); err != nil {
		t.Fatal(err)
	}
	if f := rec.find("host1", "user_joined_breakout"); len(f) != 1 || f[0]["breakout_id"] != group.ID {
		t.Fatalf("host1 user_joined_breakout = %v", f)
	}

	// still a parent member, but out of the parent's conversation
	if !r.IsMember(room.ID, "alice") {
		t.Fatal("alice dropped from parent participants")
	}
	ps, _ := r.Participants(room.ID)
	if ps[1].ID != "alice" || ps[1].BreakoutRoomID != group.ID {
		t.Fatalf("parent participant alice = %+v", ps[1])
	}
	if _, err := r.PostChat(ctx, room.ID, "host1", "main only"); err != nil {
		t.Fatal(err)
	}
	if len(rec.find("alice", "chat_message")) != 0 {
		t.Fatal("assigned member received parent chat")
	}

	if err := r.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"host1", "alice"} {
		var got bool
		for _, f := range rec.find(id, "room_ended") {
			if f["room_id"] == room.ID {
				got = true
			}
		}
		if !got {
			t.Fatalf("%s missed room_ended for the parent", id)
		}
	}
	if _, err := r.Get(room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if _, err := r.Get(group.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("breakout survived parent: %v", err)
	}
}

func TestBreakoutCreate_Errors(t *testing.T) {
	r, _ := newTestRooms(t, Options{})
	b := NewBreakouts(r, 1)
	ctx := context.Background()
	host := domain.Identity{ID: "h"}
	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})

	if _, err := b.Create(ctx, host, "missing", BreakoutParams{}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
	if _, err := b.Create(ctx, domain.Identity{ID: "p"}, room.ID, BreakoutParams{}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	mod := domain.Identity{ID: "m", Role: domain.RoleModerator}
	br, err := b.Create(ctx, mod, room.ID, BreakoutParams{})
	if err != nil {
		t.Fatalf("moderator create: %v", err)
	}
	if _, err := b.Create(ctx, host, room.ID, BreakoutParams{}); !errors.Is(err, domain.ErrTooManyBreakouts) {
		t.Fatalf("err = %v, want ErrTooManyBreakouts", err)
	}
	if _, err := b.Create(ctx, host, br.ID, BreakoutParams{}); !errors.Is(err, domain.ErrNestedBreakout) {
		t.Fatalf("err = %v, want ErrNestedBreakout", err)
	}

	off := domain.DefaultRoomSettings()
	off.AllowBreakoutRooms = false
	closed := mustCreate(t, r, CreateRoomParams{Name: "no", HostID: "h", Settings: &off})
	if _, err := b.Create(ctx, host, closed.ID, BreakoutParams{}); !errors.Is(err, domain.ErrFeatureDisabled) {
		t.Fatalf("err = %v, want ErrFeatureDisabled", err)
	}
}

func TestRoomJoinRefusesBreakouts(t *testing.T) {
	r, rec := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	ctx := context.Background()
	host := domain.Identity{ID: "h"}

	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})
	mustJoin(t, r, room.ID, "h")
	mustJoin(t, r, room.ID, "bob")
	restricted, _ := b.Create(ctx, host, room.ID, BreakoutParams{Name: "a", AllowedUsers: []string{"bob"}})
	open, _ := b.Create(ctx, host, room.ID, BreakoutParams{Name: "b"})

	// outsider, allow-list and parent membership all bypassed otherwise
	for _, id := range []string{restricted.ID, open.ID} {
		if _, err := r.Join(ctx, id, user("mallory"), ""); !errors.Is(err, domain.ErrBreakoutJoin) {
			t.Fatalf("Join(%s, mallory) err = %v, want ErrBreakoutJoin", id, err)
		}
		if r.IsMember(id, "mallory") {
			t.Fatalf("mallory admitted to %s", id)
		}
	}

	// a seated member cannot use the generic join to end up in two siblings
	if err := b.Join(ctx, "bob", restricted.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Join(ctx, open.ID, user("bob"), ""); !errors.Is(err, domain.ErrBreakoutJoin) {
		t.Fatalf("err = %v, want ErrBreakoutJoin", err)
	}
	if r.IsMember(open.ID, "bob") || !r.IsMember(restricted.ID, "bob") {
		t.Fatal("bob seated in both breakouts")
	}
	if got := rec.find("h", "user_joined_breakout"); len(got) != 1 {
		t.Fatalf("host user_joined_breakout = %d, want 1", len(got))
	}
}

func TestBreakoutJoin(t *testing.T) {
	r, rec := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	ctx := context.Background()
	host := domain.Identity{ID: "h"}

	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})
	for _, id := range []string{"h", "a", "c", "d"} {
		mustJoin(t, r, room.ID, id)
	}
	b1, _ := b.Create(ctx, host, room.ID, BreakoutParams{Name: "b1", MaxParticipants: 1})
	b2, _ := b.Create(ctx, host, room.ID, BreakoutParams{Name: "b2", AllowedUsers: []string{"a", "c"}})

	if err := b.Join(ctx, "a", b1.ID); err != nil {
		t.Fatal(err)
	}
	if err := b.Join(ctx, "c", b1.ID); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}
	if err := b.Join(ctx, "d", b2.ID); !errors.Is(err, domain.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed for allow-list", err)
	}
	if err := b.Join(ctx, "stranger", b2.ID); !errors.Is(err, domain.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed for non-member", err)
	}
	if err := b.Join(ctx, "a", room.ID); !errors.Is(err, domain.ErrNotBreakout) {
		t.Fatalf("err = %v, want ErrNotBreakout", err)
	}
	if err := b.Join(ctx, "a", "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}

	// a moves from b1 to b2 and never sits in both
	if err := b.Join(ctx, "a", b2.ID); err != nil {
		t.Fatal(err)
	}
	if r.IsMember(b1.ID, "a") || !r.IsMember(b2.ID, "a") {
		t.Fatal("move did not leave the sibling")
	}
	if f := rec.find("h", "user_left_breakout"); len(f) != 1 || f[0]["breakout_id"] != b1.ID {
		t.Fatalf("user_left_breakout = %v", f)
	}
	ps, _ := r.Participants(room.ID)
	for _, p := range ps {
		if p.ID == "a" && p.BreakoutRoomID != b2.ID {
			t.Fatalf("assignment = %q, want %q", p.BreakoutRoomID, b2.ID)
		}
	}

	if err := b.Leave(ctx, "a", b2.ID); err != nil {
		t.Fatal(err)
	}
	if err := b.Leave(ctx, "a", b2.ID); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("err = %v, want ErrNotMember", err)
	}
	ps, _ = r.Participants(room.ID)
	for _, p := range ps {
		if p.BreakoutRoomID != "" {
			t.Fatalf("assignment left behind: %+v", p)
		}
	}

	// leaving the parent also leaves the breakout
	if err := b.Join(ctx, "c", b2.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.Leave(ctx, room.ID, "c"); err != nil {
		t.Fatal(err)
	}
	if r.IsMember(b2.ID, "c") {
		t.Fatal("c still in breakout after leaving the parent")
	}
}

func TestBreakoutClose(t *testing.T) {
	r, rec := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	ctx := context.Background()

	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})
	mustJoin(t, r, room.ID, "h")
	mustJoin(t, r, room.ID, "a")
	br, _ := b.Create(ctx, domain.Identity{ID: "h"}, room.ID, BreakoutParams{})
	if err := b.Join(ctx, "a", br.ID); err != nil {
		t.Fatal(err)
	}

	if err := b.CloseAs(ctx, domain.Identity{ID: "a"}, br.ID); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if err := b.Close(ctx, room.ID); !errors.Is(err, domain.ErrNotBreakout) {
		t.Fatalf("err = %v, want ErrNotBreakout", err)
	}
	if err := b.CloseAs(ctx, domain.Identity{ID: "h"}, br.ID); err != nil {
		t.Fatal(err)
	}

	f := rec.find("a", "breakout_room_closed")
	if len(f) != 1 || f[0]["main_room_id"] != room.ID || f[0]["breakout_id"] != br.ID {
		t.Fatalf("breakout_room_closed = %v", f)
	}
	if !r.IsMember(room.ID, "a") {
		t.Fatal("a lost parent membership")
	}
	if ps, _ := r.Participants(room.ID); ps[1].BreakoutRoomID != "" {
		t.Fatalf("assignment survived close: %+v", ps[1])
	}
	if err := b.Close(ctx, br.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("second close err = %v", err)
	}
}

func TestBreakoutAutoAssign(t *testing.T) {
	r, rec := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	ctx := context.Background()
	host := domain.Identity{ID: "h"}

	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})
	for _, id := range []string{"h", "u1", "u2", "u3", "u4", "u5"} {
		mustJoin(t, r, room.ID, id)
	}
	b1, _ := b.Create(ctx, host, room.ID, BreakoutParams{Name: "b1", MaxParticipants: 2})
	b2, _ := b.Create(ctx, host, room.ID, BreakoutParams{Name: "b2", MaxParticipants: 2})

	if _, err := b.AutoAssign(ctx, domain.Identity{ID: "u1"}, room.ID); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	as, err := b.AutoAssign(ctx, host, room.ID)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]string)
	for _, a := range as {
		if !a.AutoAssigned {
			t.Fatalf("assignment not flagged auto: %+v", a)
		}
		got[a.UserID] = a.BreakoutRoomID
	}
	want := map[string]string{"u1": b1.ID, "u2": b2.ID, "u3": b1.ID, "u4": b2.ID}
	if len(got) != len(want) {
		t.Fatalf("assignments = %v", got)
	}
	for u, id := range want {
		if got[u] != id {
			t.Fatalf("%s -> %s, want %s", u, got[u], id)
		}
	}
	if r.IsMember(b1.ID, "h") || r.IsMember(b2.ID, "h") {
		t.Fatal("host was assigned")
	}
	if r.IsMember(b1.ID, "u5") || r.IsMember(b2.ID, "u5") {
		t.Fatal("u5 assigned past capacity")
	}
	if f := rec.find("u5", "breakout_assignments"); len(f) != 1 {
		t.Fatalf("breakout_assignments frames = %d", len(f))
	}

	rooms := r.RoomsOf("u1")
	if !slices.Contains(rooms, b1.ID) || !slices.Contains(rooms, room.ID) {
		t.Fatalf("RoomsOf(u1) = %v", rooms)
	}
}

func TestBreakoutDuration(t *testing.T) {
	r, rec := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	defer b.Stop()
	ctx := context.Background()

	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})
	mustJoin(t, r, room.ID, "h")
	br, err := b.Create(ctx, domain.Identity{ID: "h"}, room.ID, BreakoutParams{Duration: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Get(br.ID); errors.Is(err, domain.ErrRoomNotFound) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := r.Get(br.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatal("breakout not closed by its timer")
	}

	deadline = time.Now().Add(time.Second)
	for len(rec.find("h", "breakout_room_closed")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(rec.find("h", "breakout_room_closed")) != 1 {
		t.Fatal("parent not told about the timed close")
	}
	if n := b.pending(); n != 0 {
		t.Fatalf("pending timers after timed close = %d, want 0", n)
	}
}

func TestBreakoutTimerForRemovedRoom(t *testing.T) {
	r, _ := newTestRooms(t, Options{})
	b := NewBreakouts(r, 0)
	defer b.Stop()
	ctx := context.Background()

	room := mustCreate(t, r, CreateRoomParams{Name: "main", HostID: "h"})
	br, err := b.Create(ctx, domain.Identity{ID: "h"}, room.ID, BreakoutParams{Duration: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if n := b.pending(); n != 1 {
		t.Fatalf("pending timers = %d, want 1", n)
	}
	if err := b.Close(ctx, br.ID); err != nil {
		t.Fatal(err)
	}
	if n := b.pending(); n != 0 {
		t.Fatalf("pending timers after close = %d, want 0", n)
	}

	// the breakout vanished between CreateRoom and arm
	b.arm(br.ID, time.Hour)
	if n := b.pending(); n != 0 {
		t.Fatalf("timer kept for a removed breakout: %d pending", n)
	}
}
