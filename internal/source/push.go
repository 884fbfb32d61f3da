package source

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scavenger/internal/logger"
	"scavenger/internal/model"
	"scavenger/internal/state"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PushServer is the push variant of the Challenge Source (§4.6): a TCP
// listener accepting a single WebSocket-style connection at a time, reading
// challenge-status text frames and writing outbound pending-solution
// frames, collapsing the session bookkeeping down to a single active
// connection.
type PushServer struct {
	addr string
	log  *logger.Logger

	NewChallenge chan model.Challenge
	Outbound     <-chan state.OutboundSolution

	listener net.Listener
	httpSrv  *http.Server

	connMu sync.Mutex
	conn   *websocket.Conn

	lastID string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPushServer(addr string, log *logger.Logger, outbound <-chan state.OutboundSolution) *PushServer {
	return &PushServer{
		addr:         addr,
		log:          log,
		NewChallenge: make(chan model.Challenge, 8),
		Outbound:     outbound,
		stopCh:       make(chan struct{}),
	}
}

func (p *PushServer) Start() error {
	listener, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.addr, err)
	}
	p.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleUpgrade)
	p.httpSrv = &http.Server{Handler: mux}

	p.wg.Add(2)
	go p.serveLoop()
	go p.outboundLoop()
	return nil
}

func (p *PushServer) Stop() {
	close(p.stopCh)
	if p.listener != nil {
		p.listener.Close()
	}
	p.connMu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.connMu.Unlock()
	p.wg.Wait()
}

func (p *PushServer) serveLoop() {
	defer p.wg.Done()
	if err := p.httpSrv.Serve(p.listener); err != nil && err != http.ErrServerClosed {
		select {
		case <-p.stopCh:
		default:
			p.log.Errorf("source", "push server stopped: %v", err)
		}
	}
}

func (p *PushServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warnf("source", "websocket upgrade failed: %v", err)
		return
	}

	p.connMu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = conn
	p.connMu.Unlock()

	p.log.Infof("source", "push client connected from %s", r.RemoteAddr)
	p.readLoop(conn)
}

// readLoop consumes text frames until the client disconnects, parsing each
// as a challenge-status JSON payload (§4.6). Pending outbound solutions
// accumulated while disconnected remain in the store until the next sweep.
func (p *PushServer) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			p.log.Infof("source", "push client disconnected: %v", err)
			p.connMu.Lock()
			if p.conn == conn {
				p.conn = nil
			}
			p.connMu.Unlock()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var status model.ChallengeStatus
		if err := json.Unmarshal(data, &status); err != nil {
			p.log.Warnf("source", "malformed challenge-status frame: %v", err)
			continue
		}
		p.handleStatus(status)
	}
}

func (p *PushServer) handleStatus(status model.ChallengeStatus) {
	switch status.Code {
	case "active":
		if status.Challenge == nil {
			return
		}
		c := *status.Challenge
		if c.ChallengeID == p.lastID {
			return
		}
		if c.Expired(time.Now()) {
			p.log.Warnf("source", "dropping already-expired pushed challenge %s", c.ChallengeID)
			return
		}
		p.lastID = c.ChallengeID
		select {
		case p.NewChallenge <- c:
		case <-p.stopCh:
		}
	case "before", "after":
		p.lastID = ""
	}
}

// outboundLoop forwards pending solutions the State Worker emits to the
// currently-connected client, when one exists.
func (p *PushServer) outboundLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case sol, ok := <-p.Outbound:
			if !ok {
				return
			}
			p.connMu.Lock()
			conn := p.conn
			p.connMu.Unlock()
			if conn == nil {
				continue // stays in the pending store; next sweep re-emits it
			}
			data, err := json.Marshal(sol.Solution)
			if err != nil {
				p.log.Errorf("source", "marshal outbound solution: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.log.Warnf("source", "write outbound solution: %v", err)
			}
		}
	}
}
