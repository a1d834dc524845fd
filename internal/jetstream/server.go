package jetstream

import (
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

const (
	DefaultServerName   = "crunchypi"
	DefaultReadyTimeout = 5 * time.Second
)

// ServerConfig describes the embedded server. Zero values fall back to the
// defaults above.
type ServerConfig struct {
	StoreDir     string
	Name         string
	ReadyTimeout time.Duration

	// HandleSignals lets the NATS server install its own signal handlers.
	// The CLI owns SIGINT/SIGTERM, so it leaves this off.
	HandleSignals bool
}

// Server is an in-process JetStream server. It never listens on a port;
// clients connect through the in-process transport.
type Server struct {
	ns   *server.Server
	name string
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.StoreDir == "" {
		return nil, fmt.Errorf("JetStream store dir is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultServerName
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}

	ns, err := server.NewServer(&server.Options{
		ServerName: cfg.Name,
		DontListen: true,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoSigs:     !cfg.HandleSignals,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server %s not ready after %s", cfg.Name, cfg.ReadyTimeout)
	}
	return &Server{ns: ns, name: cfg.Name}, nil
}

// Name is the server name, also used as the client connection name.
func (s *Server) Name() string { return s.name }

func (s *Server) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns), nats.Name(s.name))
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
