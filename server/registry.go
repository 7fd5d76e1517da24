package server

// ConnectionRegistry maps identity codes to live sessions, at most one per
// code. Access is serialized by the server mutex.
type ConnectionRegistry struct {
	sessions map[string]*Session
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Bind устанавливает монопольную привязку кода к сессии.
func (r *ConnectionRegistry) Bind(code string, sess *Session) error {
	if bound, ok := r.sessions[code]; ok && bound != sess {
		return conflict("Requested ID is currently in use")
	}
	r.sessions[code] = sess
	sess.Code = code
	return nil
}

// Unbind снимает привязку, запись идентичности при этом сохраняется.
func (r *ConnectionRegistry) Unbind(code string) {
	delete(r.sessions, code)
}

// Rebind переносит живую сессию со старого кода на новый. Вызывается только
// координатором resume под серверным мьютексом.
func (r *ConnectionRegistry) Rebind(oldCode, newCode string) {
	sess, ok := r.sessions[oldCode]
	if !ok {
		return
	}
	delete(r.sessions, oldCode)
	r.sessions[newCode] = sess
	sess.Code = newCode
}

func (r *ConnectionRegistry) IsOnline(code string) bool {
	_, ok := r.sessions[code]
	return ok
}

func (r *ConnectionRegistry) Session(code string) (*Session, bool) {
	sess, ok := r.sessions[code]
	return sess, ok
}

// Send ставит событие в очередь доставки, если код сейчас онлайн. Оффлайн
// получатели молча пропускаются.
func (r *ConnectionRegistry) Send(code string, event interface{}, o *outbox) {
	if sess, ok := r.sessions[code]; ok {
		o.push(sess, event)
	}
}

func (r *ConnectionRegistry) Count() int {
	return len(r.sessions)
}

func (r *ConnectionRegistry) Codes() []string {
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	return codes
}

// outbox накапливает события, пока держится серверный мьютекс; отправка в
// сетевые очереди происходит после его освобождения.
type outbox struct {
	items    []outboxItem
	snapshot bool
}

type outboxItem struct {
	sess  *Session
	event interface{}
}

func newOutbox() *outbox {
	return &outbox{}
}

func (o *outbox) push(sess *Session, event interface{}) {
	if sess == nil {
		return
	}
	o.items = append(o.items, outboxItem{sess: sess, event: event})
}

// markSnapshot помечает, что после доставки нужно сохранить снимок.
func (o *outbox) markSnapshot() {
	o.snapshot = true
}
