package main

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sechat/config"
	"sechat/db"
	"sechat/instrument"
	"sechat/server"
)

func main() {
	// .env подхватывается до чтения конфигурации
	godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg)

	instrument.Init()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	srvConfig := &server.ServerConfig{
		Port:         cfg.Port,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}

	srv := server.New(database, srvConfig, log)

	// Отсутствующий или повреждённый снимок не мешает запуску
	if snap, err := database.LoadSnapshot(); err != nil {
		log.WithError(err).Error("Failed to load snapshot, starting empty")
	} else {
		srv.RestoreSnapshot(snap)
	}

	go startOpsServer(cfg, log)
	go startControlSocket(srv, cfg.ControlSocket, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("Shutting down")
		srv.Shutdown()
		os.Remove(cfg.ControlSocket)
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("Relay server failed")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// startOpsServer поднимает служебный HTTP: проверку живости и метрики.
func startOpsServer(cfg *config.Config, log *logrus.Logger) {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	addr := ":" + strconv.Itoa(cfg.OpsPort)
	log.WithField("addr", addr).Info("Ops server started")

	opsServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := opsServer.ListenAndServe(); err != nil {
		log.WithError(err).Error("Ops server stopped")
	}
}

// startControlSocket принимает управляющие команды по unix-сокету
func startControlSocket(srv *server.Server, socketPath string, log *logrus.Logger) {
	// Убираем сокет, оставшийся от предыдущего запуска
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		log.WithError(err).Error("Failed to create control socket")
		return
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	log.WithField("path", socketPath).Info("Control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn, socketPath, log)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, socketPath string, log *logrus.Logger) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		data, err := json.Marshal(srv.GetStats())
		if err != nil {
			conn.Write([]byte("ERROR|stats unavailable\n"))
			return
		}
		conn.Write(append(data, '\n'))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Даём ответу уйти до остановки процесса
		time.Sleep(100 * time.Millisecond)

		log.Info("Shutdown requested via control socket")
		srv.Shutdown()
		os.Remove(socketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
