// Package source implements the two interchangeable Challenge Source
// producers (§4.6): an HTTP poller and a WebSocket push server. Both
// forward NewChallenge events on the same channel the Challenge Manager
// consumes.
package source

import (
	"sync"
	"time"

	"scavenger/internal/coordinator"
	"scavenger/internal/logger"
	"scavenger/internal/model"
)

// pollInterval is the fixed 5-minute cadence §4.6 specifies.
const pollInterval = 5 * time.Minute

// Poller periodically fetches challenge status over HTTP and forwards newly
// active challenges.
type Poller struct {
	client *coordinator.Client
	log    *logger.Logger

	NewChallenge chan model.Challenge

	lastID string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPoller(client *coordinator.Client, log *logger.Logger) *Poller {
	return &Poller{
		client:       client,
		log:          log,
		NewChallenge: make(chan model.Challenge, 8),
		stopCh:       make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	p.checkOnce()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkOnce()
		}
	}
}

func (p *Poller) checkOnce() {
	status, err := p.client.ChallengeStatus()
	if err != nil {
		p.log.Warnf("source", "poll challenge status: %v", err)
		return
	}

	switch status.Code {
	case "active":
		if status.Challenge == nil {
			p.log.Warnf("source", "active status with no challenge payload")
			return
		}
		p.forward(*status.Challenge)
	case "before", "after":
		p.lastID = ""
	}
}

// forward applies the "id differs from last forwarded" dedup and the
// deadline check §4.6 requires before sending.
func (p *Poller) forward(c model.Challenge) {
	if c.ChallengeID == p.lastID {
		return
	}
	if c.Expired(time.Now()) {
		p.log.Warnf("source", "dropping already-expired challenge %s", c.ChallengeID)
		return
	}
	p.lastID = c.ChallengeID
	select {
	case p.NewChallenge <- c:
	case <-p.stopCh:
	}
}
