package server

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sechat/db"
	"sechat/instrument"
	"sechat/models"
	"sechat/protocol"
)

// outboundQueueSize ограничивает очередь исходящих событий одной сессии.
const outboundQueueSize = 64

type Server struct {
	db     *db.DB
	config *ServerConfig
	log    *logrus.Logger

	// mu сериализует все операции над общим состоянием: bind/unbind,
	// рёбра дружбы, журналы переписки и resume. События собираются под
	// мьютексом и доставляются после его освобождения.
	mu            sync.Mutex
	identities    *IdentityStore
	registry      *ConnectionRegistry
	friends       *FriendGraph
	conversations *ConversationStore
	resume        *ResumeCoordinator

	listener     net.Listener
	startedAt    time.Time
	done         chan struct{}
	shutdownOnce sync.Once
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
}

// Session описывает одно живое соединение. Code читается и меняется только
// под серверным мьютексом; запись в сеть идёт через отдельную горутину.
type Session struct {
	Code string

	conn       net.Conn
	remoteAddr string
	out        chan []byte
	closing    chan struct{}
	closeOnce  sync.Once
	limiter    *rate.Limiter
}

func New(database *db.DB, config *ServerConfig, logger *logrus.Logger) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 20
	}
	if config.RateBurst == 0 {
		config.RateBurst = 40
	}
	if logger == nil {
		logger = logrus.New()
	}

	identities := NewIdentityStore()
	registry := NewConnectionRegistry()
	friends := NewFriendGraph(identities, registry)
	conversations := NewConversationStore(friends)

	return &Server{
		db:            database,
		config:        config,
		log:           logger,
		identities:    identities,
		registry:      registry,
		friends:       friends,
		conversations: conversations,
		resume:        NewResumeCoordinator(identities, registry, friends, conversations),
		startedAt:     time.Now(),
		done:          make(chan struct{}),
	}
}

// RestoreSnapshot загружает публичные ключи и рёбра дружбы из снимка. Коды,
// известные только по рёбрам, получают пустые записи, чтобы каждое ребро
// разрешалось в идентичность.
func (s *Server) RestoreSnapshot(snap models.Snapshot) {
	s.mu.Lock()
	s.identities.Restore(snap.PublicKeys)
	s.friends.Restore(snap.Friends)
	for owner, friends := range snap.Friends {
		s.identities.Ensure(owner)
		for _, friend := range friends {
			s.identities.Ensure(friend)
		}
	}
	identityCount := s.identities.Count()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"identities": identityCount,
		"edges":      len(snap.Friends),
	}).Info("Loaded state from snapshot")
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.WithField("port", s.config.Port).Info("Relay server started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.log.WithError(err).Error("Error accepting connection")
			continue
		}

		go s.handleConnection(conn)
	}
}

// Shutdown останавливает приём, пишет финальный снимок и закрывает все
// живые сессии.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		listener := s.listener
		sessions := make([]*Session, 0, s.registry.Count())
		for _, code := range s.registry.Codes() {
			if sess, ok := s.registry.Session(code); ok {
				sessions = append(sessions, sess)
			}
		}
		s.mu.Unlock()

		if listener != nil {
			listener.Close()
		}

		s.saveSnapshot()

		for _, sess := range sessions {
			sess.close()
		}

		s.log.Info("Relay server stopped")
	})
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	sess := &Session{
		conn:       conn,
		remoteAddr: remoteAddr,
		out:        make(chan []byte, outboundQueueSize),
		closing:    make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst),
	}

	instrument.ConnectionOpened()
	s.log.WithField("addr", remoteAddr).Info("New client connected")

	go sess.writeLoop(s.config.WriteTimeout)

	defer func() {
		s.disconnect(sess)
		sess.close()
		instrument.ConnectionClosed()
	}()

	// Выдаём временный код и сразу отправляем текущий список друзей
	o := newOutbox()
	s.mu.Lock()
	code := s.identities.Allocate()
	if err := s.registry.Bind(code, sess); err != nil {
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"addr": remoteAddr, "user_id": code}).Error("Failed to bind fresh code")
		return
	}
	o.push(sess, protocol.NewUserIDAssigned(code))
	o.push(sess, protocol.NewFriendsList(s.friends.FriendsInfo(code)))
	s.mu.Unlock()
	s.flush(o)

	s.log.WithFields(logrus.Fields{"addr": remoteAddr, "user_id": code}).Info("Assigned ID to client")

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Молчание дольше таймаута чтения: ping обязан приходить чаще
				s.log.WithFields(logrus.Fields{"addr": remoteAddr, "user_id": sess.Code}).Info("Client idle timeout")
				break
			}
			if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				s.log.WithFields(logrus.Fields{"addr": remoteAddr}).WithError(err).Warn("Read error")
			}
			break
		}

		// Пропускаем пустые строки
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !sess.limiter.Allow() {
			s.pushError(sess, "Rate limit exceeded")
			continue
		}

		req, err := protocol.ParseRequest([]byte(line))
		if err != nil {
			s.log.WithField("addr", remoteAddr).Warn("Invalid JSON frame")
			s.pushError(sess, "Invalid JSON format")
			continue
		}

		s.dispatch(sess, req)
	}
}

// disconnect снимает привязку и обновляет last_seen; запись идентичности
// остаётся для оффлайн-просмотра.
func (s *Server) disconnect(sess *Session) {
	s.mu.Lock()
	code := sess.Code
	if code != "" {
		if bound, ok := s.registry.Session(code); ok && bound == sess {
			s.registry.Unbind(code)
			s.identities.Touch(code)
		}
	}
	s.mu.Unlock()

	if code != "" {
		s.log.WithFields(logrus.Fields{"addr": sess.remoteAddr, "user_id": code}).Info("Client disconnected")
	} else {
		s.log.WithField("addr", sess.remoteAddr).Info("Client disconnected")
	}
}

// flush кодирует собранные события и раскладывает их по очередям сессий.
// Вызывается строго после освобождения серверного мьютекса.
func (s *Server) flush(o *outbox) {
	for _, item := range o.items {
		data, err := protocol.Encode(item.event)
		if err != nil {
			s.log.WithError(err).Error("Failed to encode event")
			continue
		}
		item.sess.enqueue(data)
	}
	if o.snapshot {
		s.saveSnapshot()
	}
}

func (s *Server) pushError(sess *Session, message string) {
	data, err := protocol.Encode(protocol.NewError(message))
	if err != nil {
		return
	}
	sess.enqueue(data)
}

// saveSnapshot собирает срез состояния под мьютексом, а пишет на диск уже
// без него. Ошибка записи не останавливает сервер.
func (s *Server) saveSnapshot() {
	if s.db == nil {
		return
	}

	s.mu.Lock()
	snap := models.Snapshot{
		PublicKeys: s.identities.PublicKeys(),
		Friends:    s.friends.Adjacency(),
	}
	s.mu.Unlock()

	if err := s.db.SaveSnapshot(snap); err != nil {
		instrument.Snapshot("error")
		s.log.WithError(err).Error("Failed to save snapshot")
		return
	}
	instrument.Snapshot("ok")
}

// Stats отдаётся управляющим сокетом одной JSON-строкой.
type Stats struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	Connections   int   `json:"connections"`
	Identities    int   `json:"identities"`
	Messages      int   `json:"messages"`
}

func (s *Server) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Connections:   s.registry.Count(),
		Identities:    s.identities.Count(),
		Messages:      s.conversations.Count(),
	}
}

func (sess *Session) writeLoop(timeout time.Duration) {
	for {
		select {
		case data := <-sess.out:
			sess.conn.SetWriteDeadline(time.Now().Add(timeout))
			if _, err := sess.conn.Write(data); err != nil {
				sess.close()
				return
			}
		case <-sess.closing:
			return
		}
	}
}

// enqueue не блокируется: переполненная очередь медленного клиента роняет
// событие, а не чужие операции.
func (sess *Session) enqueue(data []byte) {
	select {
	case sess.out <- data:
	case <-sess.closing:
	default:
		instrument.EventDropped()
	}
}

func (sess *Session) close() {
	sess.closeOnce.Do(func() {
		close(sess.closing)
		sess.conn.Close()
	})
}

// nowUnix возвращает unix-время в секундах с дробной частью, в таком виде
// метки времени уходят клиентам.
func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
