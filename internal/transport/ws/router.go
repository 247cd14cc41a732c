package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/envelope"
	"github.com/cwrk-planet/signaling-service/internal/logger"
	"github.com/cwrk-planet/signaling-service/internal/registry"
	"github.com/cwrk-planet/signaling-service/internal/service"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Peers is the part of the connection registry the router relays through.
type Peers interface {
	Send(identity string, payload []byte) error
}

// Session is the per-connection context a frame is dispatched in.
type Session struct {
	Identity domain.Identity
	Conn     registry.Conn
}

// Router maps every inbound envelope type to exactly one handling rule. It
// holds no state of its own.
type Router struct {
	peers     Peers
	rooms     *service.Rooms
	breakouts *service.Breakouts
	strictSDP bool
	tracer    trace.Tracer
}

func NewRouter(peers Peers, rooms *service.Rooms, breakouts *service.Breakouts, strictSDP bool) *Router {
	return &Router{
		peers:     peers,
		rooms:     rooms,
		breakouts: breakouts,
		strictSDP: strictSDP,
		tracer:    otel.Tracer("signaling/ws"),
	}
}

// clientError is shown to the sender verbatim.
type clientError struct{ msg string }

func (e clientError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return clientError{msg: fmt.Sprintf(format, args...)}
}

// Dispatch handles one raw frame from s inside its own span. Every failure,
// panics included, ends up as an error frame to s only.
func (rt *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	ctx, span := rt.tracer.Start(ctx, "ws.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("signaling.identity", s.Identity.ID)),
	)
	defer span.End()

	kind := "unknown"
	defer func() {
		if rec := recover(); rec != nil {
			logger.Ctx(ctx).Error("ws handler panic", "type", kind, "identity", s.Identity.ID, "panic", rec, "stack", string(debug.Stack()))
			rt.replyError(ctx, s, errors.New("panic"))
		}
	}()

	h, msg, err := envelope.Decode(raw)
	if err != nil {
		logger.Ctx(ctx).Debug("ws bad frame", "identity", s.Identity.ID, "err", err)
		rt.replyError(ctx, s, err)
		return
	}
	kind = h.Type
	span.SetName("ws." + kind)
	span.SetAttributes(attribute.String("signaling.message_type", kind))

	if h.UserID != "" && h.UserID != s.Identity.ID {
		rt.replyError(ctx, s, badRequest("user_id does not match the connection"))
		return
	}

	if err := rt.handle(ctx, s, h, msg); err != nil {
		rt.replyError(ctx, s, err)
	}
}

func (rt *Router) handle(ctx context.Context, s *Session, h envelope.Header, msg envelope.Inbound) error {
	who := s.Identity

	switch m := msg.(type) {
	case envelope.JoinRoom:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		info := domain.ParticipantInfo{ID: who.ID, Name: who.Name, Role: who.Role}
		if m.UserInfo != nil {
			info.Email = m.UserInfo.Email
			info.Avatar = m.UserInfo.Avatar
			if m.UserInfo.Name != "" {
				info.Name = m.UserInfo.Name
			}
		}
		if _, err := rt.rooms.Join(ctx, m.RoomID, info, m.Password); err != nil {
			return err
		}
		room, err := rt.rooms.Get(m.RoomID)
		if err != nil {
			return err
		}
		participants, err := rt.rooms.Participants(m.RoomID)
		if err != nil {
			return err
		}
		return rt.reply(s, envelope.RoomJoined(room, participants))

	case envelope.LeaveRoom:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		return rt.rooms.Leave(ctx, m.RoomID, who.ID)

	case envelope.Offer:
		if err := envelope.ValidateSDP(m.SDP, webrtc.SDPTypeOffer, rt.strictSDP); err != nil {
			return badRequest("%v", err)
		}
		return rt.relay(s, envelope.TypeOffer, m.RoomID, m.Target, m.SDP)

	case envelope.Answer:
		if err := envelope.ValidateSDP(m.SDP, webrtc.SDPTypeAnswer, rt.strictSDP); err != nil {
			return badRequest("%v", err)
		}
		return rt.relay(s, envelope.TypeAnswer, m.RoomID, m.Target, m.SDP)

	case envelope.ICECandidate:
		if err := envelope.ValidateCandidate(m.Candidate); err != nil {
			return badRequest("%v", err)
		}
		return rt.relay(s, envelope.TypeICECandidate, m.RoomID, m.Target, m.Candidate)

	case envelope.MediaState:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		return rt.rooms.SetMediaState(ctx, m.RoomID, who.ID, m.State)

	case envelope.ChatMessage:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		_, err := rt.rooms.PostChat(ctx, m.RoomID, who.ID, m.Body())
		return err

	case envelope.RecordingState:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		return rt.rooms.SetRecording(ctx, m.RoomID, who, m.IsRecording)

	case envelope.CreateBreakoutRoom:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		room, err := rt.breakouts.Create(ctx, who, m.RoomID, service.BreakoutParams{
			Name:            m.Name,
			MaxParticipants: m.MaxParticipants,
			AllowedUsers:    m.AllowedUsers,
			Duration:        time.Duration(m.DurationMinutes) * time.Minute,
		})
		if err != nil {
			return err
		}
		return rt.reply(s, envelope.BreakoutCreated(*room))

	case envelope.JoinBreakoutRoom:
		if m.BreakoutRoomID == "" {
			return badRequest("breakout_room_id is required")
		}
		if err := rt.breakouts.Join(ctx, who.ID, m.BreakoutRoomID); err != nil {
			return err
		}
		room, err := rt.rooms.Get(m.BreakoutRoomID)
		if err != nil {
			return err
		}
		participants, err := rt.rooms.Participants(m.BreakoutRoomID)
		if err != nil {
			return err
		}
		return rt.reply(s, envelope.BreakoutJoined(room.ID, room.ParentID, participants))

	case envelope.LeaveBreakoutRoom:
		if m.BreakoutRoomID == "" {
			return badRequest("breakout_room_id is required")
		}
		room, err := rt.rooms.Get(m.BreakoutRoomID)
		if err != nil {
			return err
		}
		if err := rt.breakouts.Leave(ctx, who.ID, m.BreakoutRoomID); err != nil {
			return err
		}
		return rt.reply(s, envelope.BreakoutLeft(room.ID, room.ParentID))

	case envelope.CloseBreakoutRoom:
		if m.BreakoutRoomID == "" {
			return badRequest("breakout_room_id is required")
		}
		room, err := rt.rooms.Get(m.BreakoutRoomID)
		if err != nil {
			return err
		}
		// members of the parent or the breakout already get the broadcast
		informed := rt.rooms.IsMember(room.ParentID, who.ID) || rt.rooms.IsMember(room.ID, who.ID)
		if err := rt.breakouts.CloseAs(ctx, who, m.BreakoutRoomID); err != nil {
			return err
		}
		if !informed {
			return rt.reply(s, envelope.BreakoutClosed(room.ID, room.ParentID))
		}
		return nil

	case envelope.AutoAssignBreakouts:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		informed := rt.rooms.IsMember(m.RoomID, who.ID)
		as, err := rt.breakouts.AutoAssign(ctx, who, m.RoomID)
		if err != nil {
			return err
		}
		if !informed || len(as) == 0 {
			return rt.reply(s, envelope.BreakoutAssignments(m.RoomID, as))
		}
		return nil

	case envelope.ScreenShare:
		if m.RoomID == "" {
			return badRequest("room_id is required")
		}
		return rt.rooms.SetScreenShare(ctx, m.RoomID, who.ID, m.IsSharing)

	case envelope.Ping:
		return rt.reply(s, envelope.Pong())

	case envelope.Unknown:
		return badRequest("Unknown message type: %s", m.Type)

	default:
		return badRequest("Unknown message type: %s", h.Type)
	}
}

// relay forwards a negotiation payload verbatim to target. With a room_id both
// peers must be members of that room.
func (rt *Router) relay(s *Session, kind, roomID, target string, payload json.RawMessage) error {
	if target == "" {
		return badRequest("target_user_id is required")
	}
	if target == s.Identity.ID {
		return badRequest("cannot relay %s to yourself", kind)
	}
	if roomID != "" {
		if !rt.rooms.IsMember(roomID, s.Identity.ID) {
			return domain.ErrNotMember
		}
		if !rt.rooms.IsMember(roomID, target) {
			return badRequest("User %s not found", target)
		}
	}

	frame, err := envelope.Encode(envelope.Relay(kind, s.Identity.ID, target, roomID, payload))
	if err != nil {
		return err
	}
	switch err := rt.peers.Send(target, frame); {
	case errors.Is(err, registry.ErrNotFound):
		return badRequest("User %s not found", target)
	case errors.Is(err, registry.ErrSendFailed):
		return badRequest("User %s is unreachable", target)
	case err != nil:
		return err
	}
	return nil
}

func (rt *Router) reply(s *Session, ev envelope.Event) error {
	frame, err := envelope.Encode(ev)
	if err != nil {
		return err
	}
	if err := s.Conn.Send(frame); err != nil {
		slog.Debug("ws reply dropped", "identity", s.Identity.ID, "err", err)
	}
	return nil
}

// replyError sends the error frame for err and marks the current span failed.
func (rt *Router) replyError(ctx context.Context, s *Session, err error) {
	msg := errorMessage(ctx, err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, msg)
	_ = rt.reply(s, envelope.Error(msg))
}

var clientErrors = []error{
	domain.ErrRoomNotFound,
	domain.ErrRoomFull,
	domain.ErrRoomLocked,
	domain.ErrInvalidPassword,
	domain.ErrNotMember,
	domain.ErrNotAuthorized,
	domain.ErrNotAllowed,
	domain.ErrNotBreakout,
	domain.ErrTooManyBreakouts,
	domain.ErrFeatureDisabled,
	domain.ErrInvalidStatus,
	domain.ErrNestedBreakout,
	domain.ErrBreakoutJoin,
	domain.ErrInvalidRoomName,
	domain.ErrEmptyMessage,
	domain.ErrMessageTooLong,
	envelope.ErrMalformed,
	envelope.ErrMissingType,
}

// errorMessage turns err into the text of an error frame. Anything that is
// not an expected client-side condition is logged and reported generically.
func errorMessage(ctx context.Context, err error) string {
	var ce clientError
	if errors.As(err, &ce) {
		return ce.msg
	}
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	logger.Ctx(ctx).Error("ws handler failed", "err", err)
	return "internal error"
}
