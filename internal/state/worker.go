// Package state implements the State Worker: the single-threaded owner of
// the key-value store that services get/set requests and drives submission
// retries with backoff (§4.5).
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"scavenger/internal/coordinator"
	"scavenger/internal/logger"
	"scavenger/internal/model"
	"scavenger/internal/store"
)

// GetResult is the synchronous reply to a GetState command.
type GetResult struct {
	Value []byte
	Err   error
}

// Command is the State Worker's message type; exactly one of the fields
// below is populated per §4.5.
type Command struct {
	SaveState      *saveStateCmd
	GetState       *getStateCmd
	SubmitSolution *model.PendingSolution
	SweepPending   bool
	Shutdown       bool
}

type saveStateCmd struct {
	Key   string
	Value []byte
}

type getStateCmd struct {
	Key   string
	Reply chan<- GetResult
}

func SaveState(key string, value []byte) Command {
	return Command{SaveState: &saveStateCmd{Key: key, Value: value}}
}

func GetState(key string, reply chan<- GetResult) Command {
	return Command{GetState: &getStateCmd{Key: key, Reply: reply}}
}

func SubmitSolution(sol model.PendingSolution) Command {
	return Command{SubmitSolution: &sol}
}

func SweepPending() Command {
	return Command{SweepPending: true}
}

func ShutdownCommand() Command {
	return Command{Shutdown: true}
}

// OutboundSolution is forwarded on the Outbound channel when a push-server
// Challenge Source is active (§4.6 "the same connection carries outbound
// frames containing pending solutions").
type OutboundSolution struct {
	Solution model.PendingSolution
}

// Worker is the single owner of the store (§5 "Shared-resource policy").
type Worker struct {
	store  *store.Store
	client *coordinator.Client
	log    *logger.Logger

	Commands chan Command
	Outbound chan OutboundSolution

	done chan struct{}
}

func NewWorker(s *store.Store, client *coordinator.Client, log *logger.Logger) *Worker {
	return &Worker{
		store:    s,
		client:   client,
		log:      log,
		Commands: make(chan Command, 64),
		Outbound: make(chan OutboundSolution, 64),
		done:     make(chan struct{}),
	}
}

// Run is the State Worker's event loop; it serialises every store mutation
// so reads riding the same queue are linearisable with respect to writes
// (§5 "Ordering guarantees").
func (w *Worker) Run() {
	defer close(w.done)
	for cmd := range w.Commands {
		switch {
		case cmd.SaveState != nil:
			if err := w.store.Set(cmd.SaveState.Key, cmd.SaveState.Value); err != nil {
				w.log.Errorf("state", "save %s: %v", cmd.SaveState.Key, err)
			}
		case cmd.GetState != nil:
			v, err := w.store.Get(cmd.GetState.Key)
			cmd.GetState.Reply <- GetResult{Value: v, Err: err}
		case cmd.SubmitSolution != nil:
			w.submit(*cmd.SubmitSolution)
		case cmd.SweepPending:
			w.sweep()
		case cmd.Shutdown:
			return
		}
	}
}

// Done is closed once Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// submit implements the submission pipeline (§4.5): persist before any
// network attempt, then retry in a detached goroutine.
func (w *Worker) submit(sol model.PendingSolution) {
	key := store.PendingKey(sol.Address, sol.ChallengeID, sol.Nonce)
	data, err := json.Marshal(sol)
	if err != nil {
		w.log.Errorf("state", "marshal pending solution: %v", err)
		return
	}
	if err := w.store.Set(key, data); err != nil {
		w.log.Errorf("state", "persist pending solution: %v", err)
		return
	}

	go w.retrySubmit(sol, key)
}

// retrySubmit drives the backoff retry loop for a single pending solution.
// Before each network attempt it checks the challenge's own deadline (§7's
// safer default), so a submission does not keep retrying with backoff past
// the point the coordinator would reject it anyway.
func (w *Worker) retrySubmit(sol model.PendingSolution, pendingKey string) {
	backoff := NewBackoff()
	for {
		if expired, err := w.challengeExpired(sol.ChallengeID); err == nil && expired {
			w.log.Infof("state", "submission window closed, giving up on %s/%s", sol.Address, sol.ChallengeID)
			w.recordFailed(sol, "submission window closed")
			return
		}

		if w.client == nil {
			// Push-server mode with no HTTP coordinator configured: forward
			// for external delivery instead of submitting ourselves.
			select {
			case w.Outbound <- OutboundSolution{Solution: sol}:
			default:
			}
			return
		}

		resp, err := w.client.SubmitSolution(sol.Address, sol.ChallengeID, sol.Nonce)
		if err == nil {
			w.onAccepted(sol, pendingKey, resp.CryptoReceipt)
			return
		}

		apiErr, ok := err.(*coordinator.APIError)
		if !ok {
			// Network-level error: retry with backoff indefinitely while
			// the challenge is live (§7).
			time.Sleep(backoff.Next())
			continue
		}

		switch {
		case apiErr.AlreadyConsumed():
			w.onAccepted(sol, pendingKey, json.RawMessage(`{"note":"already consumed"}`))
			return
		case apiErr.WindowClosed():
			// Leave the pending entry for inspection (§4.5 step 4); only the
			// sweep path, judging the deadline against the local clock,
			// deletes a pending entry outright.
			w.log.Warnf("state", "submission window closed for %s/%s", sol.Address, sol.ChallengeID)
			w.recordFailed(sol, "submission window closed")
			return
		case apiErr.Transient():
			time.Sleep(backoff.Next())
			continue
		default:
			w.log.Warnf("state", "permanent submission error for %s/%s: %v", sol.Address, sol.ChallengeID, err)
			w.recordFailed(sol, err.Error())
			return
		}
	}
}

func (w *Worker) onAccepted(sol model.PendingSolution, pendingKey string, receipt json.RawMessage) {
	rkey := store.ReceiptKey(sol.Address, sol.ChallengeID)
	if err := w.store.Set(rkey, receipt); err != nil {
		w.log.Errorf("state", "persist receipt: %v", err)
	}
	if err := w.store.Delete(pendingKey); err != nil {
		w.log.Errorf("state", "delete pending entry: %v", err)
	}
	w.log.Infof("state", "solution accepted for %s/%s", sol.Address, sol.ChallengeID)
}

func (w *Worker) recordFailed(sol model.PendingSolution, reason string) {
	key := store.FailedKey(sol.Address, sol.ChallengeID, sol.Nonce)
	rec := model.FailedSolution{PendingSolution: sol, Reason: reason}
	data, err := json.Marshal(rec)
	if err != nil {
		w.log.Errorf("state", "marshal failed solution: %v", err)
		return
	}
	if err := w.store.Set(key, data); err != nil {
		w.log.Errorf("state", "persist failed solution: %v", err)
	}
}

// sweep re-submits everything under the pending prefix (§4.5 "Sweep
// semantics"), checking each entry's challenge deadline first.
func (w *Worker) sweep() {
	var pending []model.PendingSolution
	err := w.store.ScanPrefix(store.PendingPrefix, func(key string, value []byte) bool {
		var sol model.PendingSolution
		if err := json.Unmarshal(value, &sol); err != nil {
			w.log.Errorf("state", "sweep: unmarshal %s: %v", key, err)
			return true
		}
		pending = append(pending, sol)
		return true
	})
	if err != nil {
		w.log.Errorf("state", "sweep scan: %v", err)
		return
	}

	for _, sol := range pending {
		expired, err := w.challengeExpired(sol.ChallengeID)
		if err != nil {
			w.log.Warnf("state", "sweep: lookup challenge %s: %v", sol.ChallengeID, err)
			continue
		}
		if expired {
			w.log.Infof("state", "sweep: submission window closed, dropping %s/%s", sol.Address, sol.ChallengeID)
			w.store.Delete(store.PendingKey(sol.Address, sol.ChallengeID, sol.Nonce))
			continue
		}
		go w.retrySubmit(sol, store.PendingKey(sol.Address, sol.ChallengeID, sol.Nonce))
	}
}

func (w *Worker) challengeExpired(challengeID string) (bool, error) {
	raw, err := w.store.Get(store.ChallengeKey(challengeID))
	if err != nil {
		return false, fmt.Errorf("challenge not found: %w", err)
	}
	var c model.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return false, err
	}
	return c.Expired(time.Now()), nil
}
