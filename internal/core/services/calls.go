package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"cargolink/pkg/logging"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CallService runs the call session state machine. Every transition locks
// the session row inside a transaction.
type CallService struct {
	tx          contracts.Transactor
	repos       Repositories
	registry    contracts.Registry
	messages    *MessageService
	profiles    *ProfileService
	ringTimeout time.Duration
	counters    *counters
	log         *slog.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func NewCallService(
	log *slog.Logger,
	tx contracts.Transactor,
	repos Repositories,
	registry contracts.Registry,
	messages *MessageService,
	profiles *ProfileService,
	ringTimeout time.Duration,
) *CallService {
	return &CallService{
		log:         log,
		tx:          tx,
		repos:       repos,
		registry:    registry,
		messages:    messages,
		profiles:    profiles,
		ringTimeout: ringTimeout,
		counters:    newCounters(),
		timers:      make(map[uuid.UUID]*time.Timer),
	}
}

func (c *CallService) transition(ctx context.Context, status domain.CallStatus) {
	add(ctx, c.counters.callTransitions, 1, attribute.String("status", string(status)))
}

// notify emits ev to the personal room of every active participant except
// exclude (which may be empty).
func (c *CallService) notify(ctx context.Context, convID uuid.UUID, exclude string, ev domain.Event) {
	active, err := c.repos.Participants.ListActive(ctx, convID)
	if err != nil {
		c.log.ErrorContext(ctx, "calls - notify - list participants failed", logging.Conversation(convID.String()), logging.Err(err))
		return
	}
	for _, p := range active {
		if p.UserID == exclude {
			continue
		}
		c.registry.Emit(ctx, domain.UserRoom(p.UserID), ev)
	}
}

func (c *CallService) payload(ctx context.Context, call *domain.CallSession, userID string) domain.CallPayload {
	parts, err := c.repos.Calls.ListCallParticipants(ctx, call.ID)
	if err != nil {
		c.log.WarnContext(ctx, "calls - payload - list participants failed", logging.Call(call.ID.String()), logging.Err(err))
	}
	return domain.CallPayload{CallSession: *call, Participants: parts, UserID: userID}
}

func (c *CallService) Initiate(ctx context.Context, callerID string, in domain.CallInitiate) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "CallService.Initiate", trace.WithAttributes(
		attribute.String("user_id", callerID),
		attribute.String("conv_id", in.ConversationID.String()),
	))
	defer span.End()
	if !in.CallType.Valid() {
		fail(span, domain.ErrInvalidCallType, "invalid call type")
		return nil, domain.ErrInvalidCallType
	}
	if _, err := requireActive(ctx, c.repos.Participants, in.ConversationID, callerID); err != nil {
		fail(span, err, "caller not a participant")
		return nil, err
	}
	active, err := c.repos.Participants.ListActive(ctx, in.ConversationID)
	if err != nil {
		fail(span, err, "list participants failed")
		return nil, err
	}
	if len(active) < 2 {
		fail(span, domain.ErrTooFewParticipants, "too few participants")
		return nil, domain.ErrTooFewParticipants
	}
	group := len(active) > 2
	if in.IsGroupCall != nil {
		group = *in.IsGroupCall
	}
	call := domain.NewCallSession(in.ConversationID, callerID, in.CallType, group)
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		existing, err := c.repos.Calls.FindActiveCall(txCtx, in.ConversationID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrCallInProgress
		}
		if err := c.repos.Calls.CreateCall(txCtx, call); err != nil {
			return err
		}
		if !group {
			busy, err := c.calleeBusy(txCtx, active, callerID)
			if err != nil {
				return err
			}
			if busy {
				call.Finish(domain.CallStatusBusy, time.Now().UTC())
				return c.repos.Calls.UpdateCall(txCtx, call)
			}
		}
		return c.repos.Calls.AddCallParticipant(txCtx, domain.NewCallParticipant(call.ID, callerID, call.CallType))
	}); err != nil {
		fail(span, err, "create call failed")
		c.log.WarnContext(ctx, "calls - initiate - create failed", logging.Conversation(in.ConversationID.String()), logging.User(callerID), logging.Err(err))
		return nil, err
	}
	c.transition(ctx, call.Status)
	span.SetAttributes(attribute.String("call_id", call.ID.String()), attribute.Bool("group", group))
	if call.Status == domain.CallStatusBusy {
		c.registry.Emit(ctx, domain.UserRoom(callerID), domain.NewEvent(domain.TypeCallBusy, c.payload(ctx, call, callerID)))
		c.log.InfoContext(ctx, "calls - initiate - callee busy", logging.Call(call.ID.String()), logging.Conversation(call.ConversationID.String()))
		return call, nil
	}

	caller := c.profiles.Summary(ctx, callerID)
	incoming := c.payload(ctx, call, callerID)
	incoming.Caller = &caller
	c.notify(ctx, call.ConversationID, callerID, domain.NewEvent(domain.TypeCallIncoming, incoming))
	var invitees []string
	for _, p := range active {
		if p.UserID != callerID {
			invitees = append(invitees, p.UserID)
		}
	}
	c.messages.enqueuePush(ctx, domain.PushNotification{
		UserIDs:        invitees,
		Title:          caller.DisplayName,
		Body:           fmt.Sprintf("Incoming %s call", call.CallType),
		ConversationID: call.ConversationID.String(),
		Data: map[string]string{
			"type":          string(domain.TypeCallIncoming),
			"callSessionId": call.ID.String(),
		},
	})

	// Someone may have accepted already; only a still initiating call rings.
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		cur, err := c.repos.Calls.LockCall(txCtx, call.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.CallStatusInitiating {
			*call = *cur
			return nil
		}
		cur.Status = domain.CallStatusRinging
		if err := c.repos.Calls.UpdateCall(txCtx, cur); err != nil {
			return err
		}
		*call = *cur
		return nil
	}); err != nil {
		c.log.ErrorContext(ctx, "calls - initiate - set ringing failed", logging.Call(call.ID.String()), logging.Err(err))
		return call, nil
	}
	if call.Status == domain.CallStatusRinging {
		c.transition(ctx, call.Status)
		c.armRingTimer(call.ID)
	}
	c.messages.PostSystemMessage(ctx, call.ConversationID, callerID,
		fmt.Sprintf("%s started a %s call", caller.DisplayName, call.CallType),
		map[string]any{"callSessionId": call.ID, "event": "call_started"},
	)
	c.log.InfoContext(ctx, "calls - initiate - ringing", logging.Call(call.ID.String()), logging.Conversation(call.ConversationID.String()))
	return call, nil
}

func (c *CallService) Accept(ctx context.Context, userID string, callID uuid.UUID) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "CallService.Accept", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("call_id", callID.String()),
	))
	defer span.End()
	var call *domain.CallSession
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if call, err = c.repos.Calls.LockCall(txCtx, callID); err != nil {
			return err
		}
		if _, err := requireActive(txCtx, c.repos.Participants, call.ConversationID, userID); err != nil {
			return err
		}
		if !call.Status.IsPending() {
			return domain.ErrCallNotPending
		}
		existing, err := c.repos.Calls.GetCallParticipant(txCtx, callID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyInCall
		}
		if err := c.repos.Calls.AddCallParticipant(txCtx, domain.NewCallParticipant(callID, userID, call.CallType)); err != nil {
			return err
		}
		now := time.Now().UTC()
		call.Status = domain.CallStatusConnected
		call.StartTime = &now
		return c.repos.Calls.UpdateCall(txCtx, call)
	}); err != nil {
		fail(span, err, "accept failed")
		c.log.WarnContext(ctx, "calls - accept - rejected", logging.Call(callID.String()), logging.User(userID), logging.Err(err))
		return nil, err
	}
	c.stopRingTimer(callID)
	c.transition(ctx, call.Status)
	c.notify(ctx, call.ConversationID, userID, domain.NewEvent(domain.TypeCallAccepted, c.payload(ctx, call, userID)))
	c.messages.PostSystemMessage(ctx, call.ConversationID, userID,
		fmt.Sprintf("%s accepted the call", c.profiles.DisplayName(ctx, userID)),
		map[string]any{"callSessionId": call.ID, "event": "call_accepted"},
	)
	c.log.InfoContext(ctx, "calls - accept - connected", logging.Call(callID.String()), logging.User(userID))
	return call, nil
}

// Decline ends a 1:1 call. In a group call it is recorded only as a system
// message and the call stays open for the others.
func (c *CallService) Decline(ctx context.Context, userID string, in domain.CallDecline) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "CallService.Decline", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("call_id", in.CallSessionID.String()),
	))
	defer span.End()
	var call *domain.CallSession
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if call, err = c.repos.Calls.LockCall(txCtx, in.CallSessionID); err != nil {
			return err
		}
		if _, err := requireActive(txCtx, c.repos.Participants, call.ConversationID, userID); err != nil {
			return err
		}
		if call.IsGroupCall {
			if call.Status.IsTerminal() {
				return domain.ErrCallFinished
			}
			return nil
		}
		if !call.Status.IsPending() {
			return domain.ErrCallNotPending
		}
		call.Finish(domain.CallStatusDeclined, time.Now().UTC())
		return c.repos.Calls.UpdateCall(txCtx, call)
	}); err != nil {
		fail(span, err, "decline failed")
		c.log.WarnContext(ctx, "calls - decline - rejected", logging.Call(in.CallSessionID.String()), logging.User(userID), logging.Err(err))
		return nil, err
	}
	name := c.profiles.DisplayName(ctx, userID)
	meta := map[string]any{"callSessionId": call.ID, "event": "call_declined"}
	if in.Reason != "" {
		meta["reason"] = in.Reason
	}
	if !call.IsGroupCall {
		c.stopRingTimer(call.ID)
		c.transition(ctx, call.Status)
		p := c.payload(ctx, call, userID)
		p.Reason = in.Reason
		c.notify(ctx, call.ConversationID, userID, domain.NewEvent(domain.TypeCallDeclined, p))
	}
	c.messages.PostSystemMessage(ctx, call.ConversationID, userID, fmt.Sprintf("%s declined the call", name), meta)
	return call, nil
}

func (c *CallService) JoinGroupCall(ctx context.Context, userID string, callID uuid.UUID) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "CallService.JoinGroupCall", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("call_id", callID.String()),
	))
	defer span.End()
	var call *domain.CallSession
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if call, err = c.repos.Calls.LockCall(txCtx, callID); err != nil {
			return err
		}
		if _, err := requireActive(txCtx, c.repos.Participants, call.ConversationID, userID); err != nil {
			return err
		}
		if !call.IsGroupCall {
			return domain.ErrNotGroupCall
		}
		if call.Status != domain.CallStatusConnected {
			return domain.ErrCallNotActive
		}
		existing, err := c.repos.Calls.GetCallParticipant(txCtx, callID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyInCall
		}
		return c.repos.Calls.AddCallParticipant(txCtx, domain.NewCallParticipant(callID, userID, call.CallType))
	}); err != nil {
		fail(span, err, "join failed")
		c.log.WarnContext(ctx, "calls - join - rejected", logging.Call(callID.String()), logging.User(userID), logging.Err(err))
		return nil, err
	}
	c.notify(ctx, call.ConversationID, userID, domain.NewEvent(domain.TypeCallJoined, c.payload(ctx, call, userID)))
	c.messages.PostSystemMessage(ctx, call.ConversationID, userID,
		fmt.Sprintf("%s joined the call", c.profiles.DisplayName(ctx, userID)),
		map[string]any{"callSessionId": call.ID, "event": "call_joined"},
	)
	return call, nil
}

// End finishes the whole session for everybody, whichever participant hangs up.
func (c *CallService) End(ctx context.Context, userID string, callID uuid.UUID) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "CallService.End", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("call_id", callID.String()),
	))
	defer span.End()
	var call *domain.CallSession
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if call, err = c.repos.Calls.LockCall(txCtx, callID); err != nil {
			return err
		}
		if _, err := requireActive(txCtx, c.repos.Participants, call.ConversationID, userID); err != nil {
			return err
		}
		if call.Status.IsTerminal() {
			return domain.ErrCallFinished
		}
		now := time.Now().UTC()
		call.Finish(domain.CallStatusEnded, now)
		if err := c.repos.Calls.UpdateCall(txCtx, call); err != nil {
			return err
		}
		return c.leaveAll(txCtx, callID, now)
	}); err != nil {
		fail(span, err, "end failed")
		c.log.WarnContext(ctx, "calls - end - rejected", logging.Call(callID.String()), logging.User(userID), logging.Err(err))
		return nil, err
	}
	c.stopRingTimer(callID)
	c.transition(ctx, call.Status)
	c.notify(ctx, call.ConversationID, "", domain.NewEvent(domain.TypeCallEnded, c.payload(ctx, call, userID)))
	var duration int64
	if call.Duration != nil {
		duration = *call.Duration
	}
	c.messages.PostSystemMessage(ctx, call.ConversationID, userID,
		fmt.Sprintf("Call ended (%s)", time.Duration(duration)*time.Second),
		map[string]any{"callSessionId": call.ID, "event": "call_ended", "duration": duration},
	)
	c.log.InfoContext(ctx, "calls - end - ended", logging.Call(callID.String()), logging.User(userID), "duration", duration)
	return call, nil
}

// leaveAll stamps left_at on every call participant still in the call.
func (c *CallService) leaveAll(ctx context.Context, callID uuid.UUID, at time.Time) error {
	parts, err := c.repos.Calls.ListCallParticipants(ctx, callID)
	if err != nil {
		return err
	}
	for i := range parts {
		if parts[i].LeftAt != nil {
			continue
		}
		t := at
		parts[i].LeftAt = &t
		if err := c.repos.Calls.UpdateCallParticipant(ctx, &parts[i]); err != nil {
			return err
		}
	}
	return nil
}

// RelaySignaling forwards a negotiation payload to exactly one user.
func (c *CallService) RelaySignaling(ctx context.Context, fromUserID string, in domain.WebRTCSignal) error {
	ctx, span := tracer.Start(ctx, "CallService.RelaySignaling", trace.WithAttributes(
		attribute.String("user_id", fromUserID),
		attribute.String("call_id", in.CallSessionID.String()),
		attribute.String("signal", in.Type),
	))
	defer span.End()
	if in.ToUserID == "" {
		fail(span, domain.ErrSignalTargetMissing, "no target")
		return domain.ErrSignalTargetMissing
	}
	if err := domain.ValidateSignal(in.Type, in.Payload); err != nil {
		fail(span, err, "invalid signal")
		return err
	}
	call, err := c.repos.Calls.GetCallByID(ctx, in.CallSessionID)
	if err != nil {
		fail(span, err, "call lookup failed")
		return err
	}
	if call.Status.IsTerminal() {
		return domain.ErrCallFinished
	}
	p, err := c.repos.Calls.GetCallParticipant(ctx, call.ID, fromUserID)
	if err != nil {
		fail(span, err, "participant lookup failed")
		return err
	}
	if p == nil || p.LeftAt != nil {
		fail(span, domain.ErrNotCallMember, "not a call member")
		return domain.ErrNotCallMember
	}
	if err := c.checkSignalTarget(ctx, call, in.ToUserID); err != nil {
		fail(span, err, "target not in call")
		return err
	}
	c.registry.Emit(ctx, domain.UserRoom(in.ToUserID), domain.NewEvent(domain.TypeWebRTCSignaling, domain.SignalingPayload{
		CallSessionID: call.ID,
		Type:          in.Type,
		Payload:       in.Payload,
		FromUserID:    fromUserID,
		Timestamp:     time.Now().UTC(),
	}))
	add(ctx, c.counters.signalsRelayed, 1, attribute.String("type", in.Type))
	return nil
}

// calleeBusy reports whether the other side of a direct call is already
// talking in another call.
func (c *CallService) calleeBusy(ctx context.Context, active []domain.Participant, callerID string) (bool, error) {
	for _, p := range active {
		if p.UserID == callerID {
			continue
		}
		busy, err := c.repos.Calls.IsUserInCall(ctx, p.UserID)
		if err != nil || busy {
			return busy, err
		}
	}
	return false, nil
}

// checkSignalTarget accepts a joined call member, or a conversation member
// still being rung who has no participant row yet.
func (c *CallService) checkSignalTarget(ctx context.Context, call *domain.CallSession, userID string) error {
	p, err := c.repos.Calls.GetCallParticipant(ctx, call.ID, userID)
	if err != nil {
		return err
	}
	if p != nil {
		if p.LeftAt != nil {
			return domain.ErrNotCallMember
		}
		return nil
	}
	member, err := c.repos.Participants.GetParticipant(ctx, call.ConversationID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotCallMember
		}
		return err
	}
	if member == nil || member.LeftAt != nil {
		return domain.ErrNotCallMember
	}
	return nil
}

// UpdateMediaState changes the caller's mute, video and screen share flags
// and tells the other call members.
func (c *CallService) UpdateMediaState(ctx context.Context, userID string, in domain.MediaState) (*domain.CallParticipant, error) {
	ctx, span := tracer.Start(ctx, "CallService.UpdateMediaState", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("call_id", in.CallSessionID.String()),
	))
	defer span.End()
	var call *domain.CallSession
	var part *domain.CallParticipant
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		// The session lock serializes toggles from several devices of one user.
		if call, err = c.repos.Calls.LockCall(txCtx, in.CallSessionID); err != nil {
			return err
		}
		if call.Status.IsTerminal() {
			return domain.ErrCallFinished
		}
		if part, err = c.repos.Calls.GetCallParticipant(txCtx, call.ID, userID); err != nil {
			return err
		}
		if part == nil || part.LeftAt != nil {
			return domain.ErrNotCallMember
		}
		if in.IsMuted != nil {
			part.IsMuted = *in.IsMuted
		}
		if in.IsVideoEnabled != nil {
			part.IsVideoEnabled = *in.IsVideoEnabled
		}
		if in.IsScreenSharing != nil {
			part.IsScreenSharing = *in.IsScreenSharing
		}
		return c.repos.Calls.UpdateCallParticipant(txCtx, part)
	}); err != nil {
		fail(span, err, "media update failed")
		return nil, err
	}
	parts, err := c.repos.Calls.ListCallParticipants(ctx, call.ID)
	if err != nil {
		c.log.WarnContext(ctx, "calls - media state - list participants failed", logging.Call(call.ID.String()), logging.Err(err))
		return part, nil
	}
	ev := domain.NewEvent(domain.TypeCallMediaUpdated, domain.CallPayload{
		CallSession:  *call,
		Participants: []domain.CallParticipant{*part},
		UserID:       userID,
	})
	for _, p := range parts {
		if p.UserID == userID || p.LeftAt != nil {
			continue
		}
		c.registry.Emit(ctx, domain.UserRoom(p.UserID), ev)
	}
	return part, nil
}

func (c *CallService) armRingTimer(callID uuid.UUID) {
	if c.ringTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.timers[callID]; ok {
		prev.Stop()
	}
	c.timers[callID] = time.AfterFunc(c.ringTimeout, func() {
		c.mu.Lock()
		delete(c.timers, callID)
		c.mu.Unlock()
		c.missCall(context.Background(), callID)
	})
}

func (c *CallService) stopRingTimer(callID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[callID]; ok {
		t.Stop()
		delete(c.timers, callID)
	}
}

// missCall moves a call nobody answered to missed.
func (c *CallService) missCall(ctx context.Context, callID uuid.UUID) {
	ctx, span := tracer.Start(ctx, "CallService.missCall", trace.WithAttributes(
		attribute.String("call_id", callID.String()),
	))
	defer span.End()
	var call *domain.CallSession
	missed := false
	if err := c.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if call, err = c.repos.Calls.LockCall(txCtx, callID); err != nil {
			return err
		}
		if !call.Status.IsPending() {
			return nil
		}
		now := time.Now().UTC()
		call.Finish(domain.CallStatusMissed, now)
		if err := c.repos.Calls.UpdateCall(txCtx, call); err != nil {
			return err
		}
		missed = true
		return c.leaveAll(txCtx, callID, now)
	}); err != nil {
		fail(span, err, "miss call failed")
		c.log.ErrorContext(ctx, "calls - ring timeout - update failed", logging.Call(callID.String()), logging.Err(err))
		return
	}
	if !missed {
		return
	}
	c.transition(ctx, call.Status)
	c.notify(ctx, call.ConversationID, "", domain.NewEvent(domain.TypeCallMissed, c.payload(ctx, call, call.CallerID)))
	c.messages.PostSystemMessage(ctx, call.ConversationID, call.CallerID,
		fmt.Sprintf("Missed %s call", call.CallType),
		map[string]any{"callSessionId": call.ID, "event": "call_missed"},
	)
	c.log.InfoContext(ctx, "calls - ring timeout - missed", logging.Call(callID.String()))
}

// Close stops pending ring timers.
func (c *CallService) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}
