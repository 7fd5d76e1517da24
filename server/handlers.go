package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"sechat/instrument"
	"sechat/protocol"
)

// dispatch обрабатывает один разобранный фрейм: мутации и сбор событий идут
// под мьютексом, доставка и снимок происходят после его освобождения. Любая
// ошибка обработчика уходит клиенту единственным событием error.
func (s *Server) dispatch(sess *Session, req *protocol.Request) {
	instrument.Action(req.Action)
	s.log.WithFields(logrus.Fields{"user_id": sess.Code, "action": req.Action}).Debug("Action received")

	o := newOutbox()
	err := s.process(sess, req, o)
	s.flush(o)

	if err != nil {
		instrument.ActionError()
		s.log.WithFields(logrus.Fields{"user_id": sess.Code, "action": req.Action}).WithError(err).Debug("Action failed")
		s.pushError(sess, err.Error())
	}
}

// process держит серверный мьютекс на время всей операции. Паника
// обработчика не роняет соединение, а превращается в ответ об ошибке.
func (s *Server) process(sess *Session, req *protocol.Request, o *outbox) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"user_id": sess.Code, "action": req.Action, "panic": r}).Error("Handler panic")
			err = fmt.Errorf("Server error: %v", r)
		}
	}()

	s.identities.Touch(sess.Code)

	switch req.Action {
	case protocol.ActionPing:
		s.handlePing(sess, o)
		return nil
	case protocol.ActionSetPublicKey:
		return s.handleSetPublicKey(sess, req, o)
	case protocol.ActionSetKeyStatus:
		return s.handleSetKeyStatus(sess, req, o)
	case protocol.ActionResumeSession:
		return s.handleResumeSession(sess, req, o)
	case protocol.ActionSendFriendRequest:
		return s.handleSendFriendRequest(sess, req, o)
	case protocol.ActionRespondFriendRequest:
		return s.handleRespondFriendRequest(sess, req, o)
	case protocol.ActionSendMessage:
		return s.handleSendMessage(sess, req, o)
	case protocol.ActionGetFriends:
		s.handleGetFriends(sess, o)
		return nil
	case protocol.ActionGetMessages:
		return s.handleGetMessages(sess, req, o)
	case protocol.ActionGetKeyStatus:
		s.handleGetKeyStatus(sess, o)
		return nil
	default:
		return invalidInput("Unknown action: " + req.Action)
	}
}

func (s *Server) handlePing(sess *Session, o *outbox) {
	o.push(sess, protocol.NewPong())
}

func (s *Server) handleSetPublicKey(sess *Session, req *protocol.Request, o *outbox) error {
	status, err := s.identities.SetPublicKey(sess.Code, req.PublicKey)
	if err != nil {
		return err
	}

	o.push(sess, protocol.NewPublicKeySet(status))

	// Подключённые друзья узнают о новом ключе сразу
	notification := protocol.NewFriendKeyUpdated(sess.Code, req.PublicKey)
	for _, friend := range s.friends.Friends(sess.Code) {
		s.registry.Send(friend, notification, o)
	}

	o.markSnapshot()
	s.log.WithField("user_id", sess.Code).Info("Public key set")
	return nil
}

func (s *Server) handleSetKeyStatus(sess *Session, req *protocol.Request, o *outbox) error {
	status, err := s.identities.SetKeyStatus(sess.Code, req.PrivateKeyLoaded, req.PublicKeyLoaded)
	if err != nil {
		return err
	}
	o.push(sess, protocol.NewKeyStatusUpdated(status))
	return nil
}

func (s *Server) handleGetKeyStatus(sess *Session, o *outbox) {
	o.push(sess, protocol.NewKeyStatus(s.identities.KeyStatus(sess.Code)))
}

func (s *Server) handleResumeSession(sess *Session, req *protocol.Request, o *outbox) error {
	previous := sess.Code
	outcome, err := s.resume.Resume(sess, req.UserID, o)
	instrument.Resume(outcome)
	if err != nil {
		return err
	}
	if outcome != ResumeNoop {
		s.log.WithFields(logrus.Fields{
			"previous": previous,
			"user_id":  sess.Code,
			"outcome":  outcome,
		}).Info("Session resumed")
	}
	return nil
}

func (s *Server) handleSendFriendRequest(sess *Session, req *protocol.Request, o *outbox) error {
	target := protocol.CanonicalCode(req.TargetID)
	if len(target) != codeLength {
		return invalidInput("Invalid user ID format")
	}

	request, err := s.friends.Request(sess.Code, target)
	if err != nil {
		return err
	}

	s.registry.Send(target, protocol.NewFriendRequestReceived(request.SenderID, request.Timestamp), o)
	o.push(sess, protocol.NewFriendRequestSent(target))

	instrument.FriendRequest()
	s.log.WithFields(logrus.Fields{"user_id": sess.Code, "target": target}).Info("Friend request sent")
	return nil
}

func (s *Server) handleRespondFriendRequest(sess *Session, req *protocol.Request, o *outbox) error {
	sender := protocol.CanonicalCode(req.SenderID)
	if sender == "" {
		return invalidInput("Sender ID is required")
	}

	if err := s.friends.Respond(sess.Code, sender, req.Accepted); err != nil {
		return err
	}

	if !req.Accepted {
		s.registry.Send(sender, protocol.NewFriendRequestRejected(sess.Code), o)
		s.log.WithFields(logrus.Fields{"user_id": sess.Code, "sender": sender}).Info("Friend request rejected")
		return nil
	}

	// Обе стороны получают ключ друг друга и свежий список друзей
	o.push(sess, protocol.NewFriendAdded(sender, s.publicKey(sender)))
	s.registry.Send(sender, protocol.NewFriendAdded(sess.Code, s.publicKey(sess.Code)), o)

	o.push(sess, protocol.NewFriendsList(s.friends.FriendsInfo(sess.Code)))
	s.registry.Send(sender, protocol.NewFriendsList(s.friends.FriendsInfo(sender)), o)

	o.markSnapshot()
	s.log.WithFields(logrus.Fields{"user_id": sess.Code, "sender": sender}).Info("Friend request accepted")
	return nil
}

func (s *Server) handleSendMessage(sess *Session, req *protocol.Request, o *outbox) error {
	if req.TargetID == "" {
		return invalidInput("Target user ID is required")
	}
	if req.EncryptedMessage == "" {
		return invalidInput("Encrypted message is required")
	}

	target := protocol.CanonicalCode(req.TargetID)
	message, err := s.conversations.Append(sess.Code, target, req.EncryptedMessage)
	if err != nil {
		return err
	}

	// Получателю, если тот онлайн, и эхом отправителю как подтверждение
	notification := protocol.NewMessageReceived(message)
	s.registry.Send(target, notification, o)
	o.push(sess, notification)

	instrument.MessageRelayed()
	s.log.WithFields(logrus.Fields{"user_id": sess.Code, "target": target}).Debug("Message relayed")
	return nil
}

func (s *Server) handleGetFriends(sess *Session, o *outbox) {
	o.push(sess, protocol.NewFriendsList(s.friends.FriendsInfo(sess.Code)))
}

func (s *Server) handleGetMessages(sess *Session, req *protocol.Request, o *outbox) error {
	if req.TargetID == "" {
		return invalidInput("Target user ID is required")
	}

	target := protocol.CanonicalCode(req.TargetID)
	messages, err := s.conversations.History(sess.Code, target)
	if err != nil {
		return err
	}

	o.push(sess, protocol.NewConversationMessages(target, messages))
	return nil
}

func (s *Server) publicKey(code string) string {
	if identity, ok := s.identities.Get(code); ok {
		return identity.PublicKey
	}
	return ""
}
