package driver

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const handshakeWait = 10 * time.Second

// Pool is the registry of connected browser workers. It owns all registry
// mutation; callers hold *Agent pointers and issue commands directly.
type Pool struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	upgrader websocket.Upgrader

	mu     sync.Mutex
	agents map[string]*Agent

	staleAfter time.Duration
}

// NewPool builds an empty pool. metrics may be nil.
func NewPool(logger *slog.Logger, metrics *observability.Metrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		agents:     make(map[string]*Agent),
		staleAfter: staleThreshold,
	}
}

// SetTracer attaches span emission to every command round trip. Safe to
// leave unset; nil keeps commands untraced.
func (p *Pool) SetTracer(tracer *observability.Tracer) {
	p.tracer = tracer
}

// ServeHTTP upgrades the connection and runs the worker handshake: the
// first frame must be HANDSHAKE{agentId}; the pool assigns a unique id
// (keeping the requested one when free) and replies WELCOME{agentId}.
func (p *Pool) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	frame, err := DecodeFrame(data)
	if err != nil || frame.Type != FrameHandshake {
		p.logger.Warn("worker connection without handshake")
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	agent := p.register(frame.AgentID, conn)

	welcome, err := EncodeFrame(Frame{Type: FrameWelcome, AgentID: agent.id})
	if err != nil {
		p.detach(agent)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		p.detach(agent)
		return
	}

	go agent.writeLoop()
	agent.readLoop()
}

// register stores a new agent under a unique id.
func (p *Pool) register(requestedID string, conn *websocket.Conn) *Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := requestedID
	if id == "" {
		id = uuid.NewString()
	}
	if _, taken := p.agents[id]; taken {
		id = uuid.NewString()
	}

	agent := newAgent(id, p, conn, p.logger)
	p.agents[id] = agent

	if p.metrics != nil {
		p.metrics.AgentConnected()
	}
	p.logger.Info("worker connected", "agent_id", id, "requested_id", requestedID)
	return agent
}

// detach removes an agent from the registry and closes it. Safe to call
// multiple times per agent.
func (p *Pool) detach(agent *Agent) {
	p.mu.Lock()
	current, ok := p.agents[agent.id]
	if ok && current == agent {
		delete(p.agents, agent.id)
	} else {
		ok = false
	}
	p.mu.Unlock()

	agent.close()

	if ok {
		if p.metrics != nil {
			p.metrics.AgentDisconnected()
		}
		p.logger.Info("worker disconnected", "agent_id", agent.id)
	}
}

// PickAgent selects a worker: exact preferred id when registered, else the
// most-recently-seen idle agent, else any agent. Empty pool yields
// agent_unavailable.
func (p *Pool) PickAgent(preferredID string) (*Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if preferredID != "" {
		if agent, ok := p.agents[preferredID]; ok {
			return agent, nil
		}
	}

	candidates := make([]*Agent, 0, len(p.agents))
	for _, agent := range p.agents {
		candidates = append(candidates, agent)
	}
	if len(candidates) == 0 {
		return nil, models.NewError(models.CodeAgentUnavailable)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastSeenAt().After(candidates[j].lastSeenAt())
	})
	for _, agent := range candidates {
		if agent.Status() == models.AgentIdle {
			return agent, nil
		}
	}
	return candidates[0], nil
}

// AssignRun marks the agent busy with the given run.
func (p *Pool) AssignRun(agent *Agent, runID string) {
	agent.mu.Lock()
	agent.status = models.AgentBusy
	agent.runID = runID
	agent.mu.Unlock()
}

// ReleaseRun returns the agent to the idle pool.
func (p *Pool) ReleaseRun(agent *Agent) {
	agent.mu.Lock()
	agent.status = models.AgentIdle
	agent.runID = ""
	agent.mu.Unlock()
}

// Agents lists the registry for the operability surface.
func (p *Pool) Agents() []models.AgentInfo {
	p.mu.Lock()
	agents := make([]*Agent, 0, len(p.agents))
	for _, agent := range p.agents {
		agents = append(agents, agent)
	}
	p.mu.Unlock()

	infos := make([]models.AgentInfo, 0, len(agents))
	for _, agent := range agents {
		infos = append(infos, agent.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// StartPruning drops agents whose last heartbeat is older than the stale
// threshold, closing their sockets. Runs until ctx is cancelled.
func (p *Pool) StartPruning(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneStale()
		}
	}
}

func (p *Pool) pruneStale() {
	cutoff := time.Now().Add(-p.staleAfter)

	p.mu.Lock()
	var stale []*Agent
	for _, agent := range p.agents {
		if agent.lastSeenAt().Before(cutoff) {
			stale = append(stale, agent)
		}
	}
	p.mu.Unlock()

	for _, agent := range stale {
		p.logger.Warn("pruning stale worker", "agent_id", agent.id,
			"last_seen", agent.lastSeenAt().UTC().Format(time.RFC3339))
		p.detach(agent)
	}
}
