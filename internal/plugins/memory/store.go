package memory

import (
	"cargolink/internal/core/domain"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type participantKey struct {
	conv uuid.UUID
	user string
}

type statusKey struct {
	msg  uuid.UUID
	user string
}

type callParticipantKey struct {
	call uuid.UUID
	user string
}

// Store keeps every repository in process memory. It is a test backend:
// cmd wires Postgres, and WithTx gives exclusion but no rollback.
type Store struct {
	// txMu serializes WithTx callers so a transaction sees a stable view.
	txMu sync.Mutex
	mu   sync.RWMutex

	users            map[string]domain.User
	conversations    map[uuid.UUID]domain.Conversation
	participants     map[participantKey]domain.Participant
	messages         map[uuid.UUID]domain.Message
	statuses         map[statusKey]domain.MessageStatus
	calls            map[uuid.UUID]domain.CallSession
	callParticipants map[callParticipantKey]domain.CallParticipant
}

func NewStore() *Store {
	return &Store{
		users:            make(map[string]domain.User),
		conversations:    make(map[uuid.UUID]domain.Conversation),
		participants:     make(map[participantKey]domain.Participant),
		messages:         make(map[uuid.UUID]domain.Message),
		statuses:         make(map[statusKey]domain.MessageStatus),
		calls:            make(map[uuid.UUID]domain.CallSession),
		callParticipants: make(map[callParticipantKey]domain.CallParticipant),
	}
}

type txKeyType struct{}

var txKey = txKeyType{}

// WithTx runs fn holding the store's transaction lock. Nested calls join the
// outer one. Writes are not rolled back on error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey, true))
}

// Seeding helpers. Conversations and memberships are owned by another
// service in production.

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutConversation(c domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

func (s *Store) PutParticipant(p domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[participantKey{p.ConversationID, p.UserID}] = p
}

// Users

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// Conversations

func (s *Store) GetConversationByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[convID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return &c, nil
}

func (s *Store) UpdateLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.LastMessageID = &msgID
	c.LastMessageAt = &at
	s.conversations[convID] = c
	return nil
}

// Participants

func (s *Store) GetParticipant(ctx context.Context, convID uuid.UUID, userID string) (*domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{convID, userID}]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return &p, nil
}

func (s *Store) ListActive(ctx context.Context, convID uuid.UUID) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Participant
	for k, p := range s.participants {
		if k.conv == convID && p.IsActive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) ListConversationIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for k, p := range s.participants {
		if k.user == userID && p.IsActive() {
			out = append(out, k.conv)
		}
	}
	return out, nil
}

// Messages

func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return domain.ErrConversationNotFound
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *Store) GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return &m, nil
}

// LockMessage relies on WithTx for exclusion.
func (s *Store) LockMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return s.GetMessageByID(ctx, id)
}

func (s *Store) UpdateMessage(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return domain.ErrMessageNotFound
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (s *Store) ListMessages(ctx context.Context, convID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID != convID {
			continue
		}
		if before != nil && !m.SentAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Message status

func (s *Store) UpsertStatuses(ctx context.Context, rows []domain.MessageStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		k := statusKey{r.MessageID, r.UserID}
		cur, ok := s.statuses[k]
		if !ok {
			s.statuses[k] = r
			continue
		}
		if r.IsDelivered && !cur.IsDelivered {
			cur.IsDelivered = true
			cur.DeliveredAt = r.DeliveredAt
		}
		if r.IsRead && !cur.IsRead {
			cur.IsRead = true
			cur.ReadAt = r.ReadAt
		}
		s.statuses[k] = cur
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, msgID uuid.UUID, userID string) (*domain.MessageStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[statusKey{msgID, userID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListStatuses(ctx context.Context, msgID uuid.UUID) ([]domain.MessageStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MessageStatus
	for k, st := range s.statuses {
		if k.msg == msgID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) ConfirmPending(ctx context.Context, userID string, at time.Time) ([]domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Delivery
	for k, st := range s.statuses {
		if k.user != userID || st.IsDelivered {
			continue
		}
		m, ok := s.messages[k.msg]
		if !ok {
			continue
		}
		t := at
		st.IsDelivered = true
		st.DeliveredAt = &t
		s.statuses[k] = st
		out = append(out, domain.Delivery{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
		})
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, convID uuid.UUID, userID string, at time.Time) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for k, st := range s.statuses {
		if k.user != userID || st.IsRead {
			continue
		}
		m, ok := s.messages[k.msg]
		if !ok || m.ConversationID != convID || m.SenderID == userID {
			continue
		}
		t := at
		st.IsRead = true
		st.ReadAt = &t
		if !st.IsDelivered {
			st.IsDelivered = true
			st.DeliveredAt = &t
		}
		s.statuses[k] = st
		ids = append(ids, k.msg)
	}
	return ids, nil
}

// Calls

func (s *Store) CreateCall(ctx context.Context, call *domain.CallSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.ConversationID == call.ConversationID && !c.Status.IsTerminal() {
			return domain.ErrCallInProgress
		}
	}
	s.calls[call.ID] = *call
	return nil
}

func (s *Store) GetCallByID(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return &c, nil
}

// LockCall relies on WithTx for exclusion.
func (s *Store) LockCall(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	return s.GetCallByID(ctx, id)
}

func (s *Store) FindActiveCall(ctx context.Context, convID uuid.UUID) (*domain.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.calls {
		if c.ConversationID == convID && !c.Status.IsTerminal() {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateCall(ctx context.Context, call *domain.CallSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[call.ID]; !ok {
		return domain.ErrCallNotFound
	}
	s.calls[call.ID] = *call
	return nil
}

func (s *Store) AddCallParticipant(ctx context.Context, p *domain.CallParticipant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := callParticipantKey{p.CallSessionID, p.UserID}
	if _, ok := s.callParticipants[k]; ok {
		return domain.ErrAlreadyInCall
	}
	s.callParticipants[k] = *p
	return nil
}

func (s *Store) GetCallParticipant(ctx context.Context, callID uuid.UUID, userID string) (*domain.CallParticipant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.callParticipants[callParticipantKey{callID, userID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListCallParticipants(ctx context.Context, callID uuid.UUID) ([]domain.CallParticipant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CallParticipant
	for k, p := range s.callParticipants {
		if k.call == callID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) IsUserInCall(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, p := range s.callParticipants {
		if k.user != userID || p.LeftAt != nil {
			continue
		}
		if c, ok := s.calls[k.call]; ok && !c.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateCallParticipant(ctx context.Context, p *domain.CallParticipant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := callParticipantKey{p.CallSessionID, p.UserID}
	if _, ok := s.callParticipants[k]; !ok {
		return domain.ErrNotCallMember
	}
	s.callParticipants[k] = *p
	return nil
}
