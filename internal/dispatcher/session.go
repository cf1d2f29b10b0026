// Package dispatcher wires together the Config Store, HTTP Client,
// WebSocket Client, Request Router, and Executor Supervisor into one
// process-scoped AgentSession: the only thing cmd/agent constructs.
package dispatcher

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/doyler/faraday-agent-dispatcher/internal/config"
	"github.com/doyler/faraday-agent-dispatcher/internal/httpclient"
	"github.com/doyler/faraday-agent-dispatcher/internal/protocol"
	"github.com/doyler/faraday-agent-dispatcher/internal/router"
	"github.com/doyler/faraday-agent-dispatcher/internal/supervisor"
	"github.com/doyler/faraday-agent-dispatcher/internal/wsclient"
)

// AgentSession owns the process's single HTTP client connection pool
// and at most one live WebSocket connection, carrying the agent_token
// and a short-lived websocket_token across its lifecycle: created,
// registered, connected, serving, shut down.
type AgentSession struct {
	cfg  *config.Config
	log  *logrus.Logger
	http *httpclient.Client
	ws   *wsclient.Client
}

// New builds an AgentSession from a loaded Config. It does not perform
// any network I/O; call Register and then Connect to bring it up.
func New(cfg *config.Config, log *logrus.Logger) *AgentSession {
	return &AgentSession{
		cfg:  cfg,
		log:  log,
		http: httpclient.New(cfg.Host, cfg.APIPort, cfg.SSL, cfg.SSLSkipVerify, cfg.Workspace),
	}
}

// Register exchanges the configured registration token for an agent
// token, unless one is already on file, then persists it to configPath.
// It is the `register` CLI subcommand's entire body.
func (s *AgentSession) Register(configPath string) error {
	if s.cfg.AgentToken != "" {
		s.log.Info("agent token already present, skipping registration")
		return nil
	}

	tok, err := s.http.Register(s.cfg.RegistrationToken, s.cfg.AgentName)
	if err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	if err := s.cfg.SetAgentToken(tok); err != nil {
		return fmt.Errorf("store issued agent token: %w", err)
	}
	if err := s.cfg.Save(configPath); err != nil {
		return fmt.Errorf("persist agent token: %w", err)
	}
	s.log.Info("agent registered successfully")
	return nil
}

// Connect issues a websocket token, dials the control channel, and
// completes the JOIN_AGENT handshake. Call Serve afterward to run the
// receive loop.
func (s *AgentSession) Connect() error {
	if s.cfg.AgentToken == "" {
		return fmt.Errorf("agent is not registered: run the register subcommand first")
	}
	s.http.SetAgentToken(s.cfg.AgentToken)

	wsToken, err := s.http.IssueWebsocketToken()
	if err != nil {
		return fmt.Errorf("issue websocket token: %w", err)
	}

	sup := supervisor.New(s.cfg.AgentName, s.http, s.log)
	r := router.New(s.cfg.AgentName, s.cfg.Executors, sup, s.log)

	ws, err := wsclient.Dial(s.cfg.Host, s.cfg.WebsocketPort, s.cfg.SSL, s.cfg.Workspace, wsToken, advertisements(s.cfg.Executors), r, s.log)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	s.ws = ws
	return nil
}

// Serve runs the WebSocket receive loop until the server closes the
// connection or a transport error occurs. It is the `run` CLI
// subcommand's entire body once Register and Connect have succeeded.
func (s *AgentSession) Serve() error {
	return s.ws.Serve()
}

// Shutdown closes the WebSocket connection. Any Supervisor runs already
// in flight are left to terminate naturally; their final StatusFrames
// may be discarded.
func (s *AgentSession) Shutdown() error {
	if s.ws == nil {
		return nil
	}
	return s.ws.Close()
}

// advertisements builds the JOIN_AGENT frame's executors array: every
// configured executor's declared param schema, expressed as
// paramName -> required.
func advertisements(executors map[string]*config.ExecutorSpec) []protocol.ExecutorAdvertisement {
	out := make([]protocol.ExecutorAdvertisement, 0, len(executors))
	for name, spec := range executors {
		args := make(map[string]bool, len(spec.Params.Params))
		for paramName, p := range spec.Params.Params {
			args[paramName] = p.Required
		}
		out = append(out, protocol.ExecutorAdvertisement{ExecutorName: name, Args: args})
	}
	return out
}
