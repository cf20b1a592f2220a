package services

import "cargolink/internal/core/domain"

// Repositories groups the storage ports shared by the core services.
type Repositories struct {
	Users         domain.UserRepository
	Conversations domain.ConversationRepository
	Participants  domain.ParticipantRepository
	Messages      domain.MessageRepository
	Statuses      domain.MessageStatusRepository
	Calls         domain.CallRepository
}
