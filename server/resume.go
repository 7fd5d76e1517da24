package server

import (
	"sechat/models"
	"sechat/protocol"
)

// Resume outcomes, also used as the metric label.
const (
	ResumeNoop  = "noop"
	ResumeMerge = "merge"
	ResumeAdopt = "adopt"
	ResumeError = "error"
)

// ResumeCoordinator rebinds a live session from its transient code onto a
// requested one. Merge rebinds onto an existing identity record; adopt
// renames the transient code's entire state. Either way the collision guard,
// the migration and the rebinding happen as one step under the server mutex,
// so concurrent resumes for one target code resolve with a single winner.
type ResumeCoordinator struct {
	identities    *IdentityStore
	registry      *ConnectionRegistry
	friends       *FriendGraph
	conversations *ConversationStore
}

func NewResumeCoordinator(identities *IdentityStore, registry *ConnectionRegistry, friends *FriendGraph, conversations *ConversationStore) *ResumeCoordinator {
	return &ResumeCoordinator{
		identities:    identities,
		registry:      registry,
		friends:       friends,
		conversations: conversations,
	}
}

// Resume выполняет одну попытку возобновления. События подтверждения
// складываются в outbox, ошибки уходят только запросившей сессии, состояние
// при отказе не меняется.
func (rc *ResumeCoordinator) Resume(sess *Session, requestedRaw string, o *outbox) (string, error) {
	requested := protocol.CanonicalCode(requestedRaw)
	if len(requested) != codeLength {
		return ResumeError, invalidInput("Invalid user ID format for resume")
	}

	current := sess.Code

	// Повторный запрос своего же кода просто подтверждается
	if requested == current {
		o.push(sess, protocol.NewUserIDAssigned(current))
		return ResumeNoop, nil
	}

	// Код, занятый другой живой сессией, забрать нельзя
	if rc.registry.IsOnline(requested) {
		return ResumeError, conflict("Requested ID is currently in use")
	}

	if _, ok := rc.registry.Session(current); !ok {
		return ResumeError, notFound("Current session not found")
	}

	outcome := ResumeMerge
	if rc.identities.Exists(requested) {
		rc.merge(current, requested)
	} else {
		outcome = ResumeAdopt
		rc.adopt(current, requested)
	}

	rc.registry.Rebind(current, requested)
	rc.identities.Touch(requested)

	o.push(sess, protocol.NewUserIDAssigned(requested))
	o.push(sess, protocol.NewFriendsList(rc.friends.FriendsInfo(requested)))
	o.markSnapshot()
	return outcome, nil
}

// merge прикрепляет сессию к уже существующей записи. Статус ключей
// переносится с временного кода, только если у записи он ещё нулевой; сам
// временный код вместе с пустым множеством друзей и заявками отбрасывается.
func (rc *ResumeCoordinator) merge(current, requested string) {
	existing, _ := rc.identities.Get(requested)
	if transient, ok := rc.identities.Get(current); ok {
		if existing.Status == (models.KeyStatus{}) {
			existing.Status = transient.Status
		}
	}
	rc.identities.Remove(current)
	rc.friends.DropCode(current)
}

// adopt переименовывает всё состояние временного кода в запрошенный:
// запись идентичности, рёбра дружбы в обе стороны, очереди заявок и журналы
// переписки. Затронутые пары собираются до первой мутации, поэтому частично
// перенесённых состояний не бывает.
func (rc *ResumeCoordinator) adopt(current, requested string) {
	counterparts := rc.conversations.Counterparts(current)

	rc.identities.Rename(current, requested)
	rc.friends.RenameCode(current, requested)
	for _, other := range counterparts {
		rc.conversations.Rekey(current, requested, other)
	}
}
