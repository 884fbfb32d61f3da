// Package manager implements the Challenge Manager (§4.4): the central
// orchestrator reacting to new challenges and worker solutions, owning the
// "current challenge" and "active miner" invariants.
package manager

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"scavenger/internal/address"
	"scavenger/internal/config"
	"scavenger/internal/coordinator"
	"scavenger/internal/logger"
	"scavenger/internal/mining"
	"scavenger/internal/model"
	"scavenger/internal/rom"
	"scavenger/internal/state"
	"scavenger/internal/store"
)

// Production ROM parameters (§4.1 "tolerate size up to at least 1 GiB");
// mixing_rounds follows the same value used in the reference test vector.
const (
	romSize       = 1 << 30 // 1 GiB
	romPreSize    = 64 << 20
	romMixRounds  = 4
	donationTries = 3
)

// Command is the Manager's message type; exactly one field is populated.
type Command struct {
	NewChallenge  *model.Challenge
	SolutionFound *solutionFoundMsg
	Shutdown      bool
}

type solutionFoundMsg struct {
	Solution    model.PendingSolution
	TotalHashes uint64
	Elapsed     time.Duration
}

func NewChallengeCommand(c model.Challenge) Command { return Command{NewChallenge: &c} }

func SolutionFoundCommand(sol model.PendingSolution, totalHashes uint64, elapsed time.Duration) Command {
	return Command{SolutionFound: &solutionFoundMsg{Solution: sol, TotalHashes: totalHashes, Elapsed: elapsed}}
}

func ShutdownCommand() Command { return Command{Shutdown: true} }

// Manager is the single-threaded event loop over the command queue.
type Manager struct {
	cfg    *config.Settings
	client *coordinator.Client
	sw     *state.Worker
	log    *logger.Logger

	Commands chan Command

	currentChallenge *model.Challenge
	currentStop      *mining.StopFlag
	activeAddress    string
	registered       map[string]bool

	romSize, romPreSize int
	romMixRounds        uint32

	wg   sync.WaitGroup
	done chan struct{}
}

func New(cfg *config.Settings, client *coordinator.Client, sw *state.Worker, log *logger.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		client:       client,
		sw:           sw,
		log:          log,
		Commands:     make(chan Command, 64),
		registered:   make(map[string]bool),
		done:         make(chan struct{}),
		romSize:      romSize,
		romPreSize:   romPreSize,
		romMixRounds: romMixRounds,
	}
}

// SetROMParams overrides the production ROM dimensions; used by tests that
// cannot afford a 1 GiB allocation per cycle.
func (m *Manager) SetROMParams(size, preSize int, mixingRounds uint32) {
	m.romSize, m.romPreSize, m.romMixRounds = size, preSize, mixingRounds
}

func (m *Manager) Done() <-chan struct{} { return m.done }

// Run is the Manager's single-threaded event loop: a message is fully
// handled before the next is dequeued (§5 "Ordering guarantees").
func (m *Manager) Run() {
	defer close(m.done)
	for cmd := range m.Commands {
		switch {
		case cmd.NewChallenge != nil:
			m.handleNewChallenge(*cmd.NewChallenge)
		case cmd.SolutionFound != nil:
			m.handleSolutionFound(*cmd.SolutionFound)
		case cmd.Shutdown:
			m.handleShutdown()
			return
		}
	}
}

func (m *Manager) handleNewChallenge(c model.Challenge) {
	if m.currentChallenge != nil && m.currentChallenge.ChallengeID == c.ChallengeID {
		return // dedup: running worker pool keeps mining, a restart would waste the ROM
	}

	data, err := json.Marshal(c)
	if err != nil {
		m.log.Errorf("manager", "marshal challenge %s: %v", c.ChallengeID, err)
		return
	}
	m.sw.Commands <- state.SaveState(store.ChallengeKey(c.ChallengeID), data)
	m.sw.Commands <- state.SaveState(store.LastChallengeIDKey, []byte(c.ChallengeID))

	m.stopCurrentMiner()
	m.currentChallenge = &c

	r, err := rom.Build([]byte(c.RomKey), m.romSize, m.romPreSize, m.romMixRounds)
	if err != nil {
		m.log.Errorf("manager", "build rom for %s: %v", c.ChallengeID, err)
		return
	}

	m.spawnMiner(c, r)
}

func (m *Manager) handleSolutionFound(msg solutionFoundMsg) {
	m.stopCurrentMiner()

	m.sw.Commands <- state.SubmitSolution(msg.Solution)
	m.log.Infof("manager", "solution found for %s after %d hashes in %s", msg.Solution.ChallengeID, msg.TotalHashes, msg.Elapsed)

	if m.cfg.Mode.Mode == config.ModeMnemonic {
		m.advanceMnemonicCursor(msg.Solution.ChallengeID)
	}

	if m.currentChallenge == nil {
		return
	}
	c := *m.currentChallenge
	if c.Expired(time.Now()) {
		return
	}

	romForCycle, err := rom.Build([]byte(c.RomKey), m.romSize, m.romPreSize, m.romMixRounds)
	if err != nil {
		m.log.Errorf("manager", "rebuild rom for respawn on %s: %v", c.ChallengeID, err)
		return
	}
	m.spawnMiner(c, romForCycle)
}

func (m *Manager) handleShutdown() {
	m.stopCurrentMiner()
	m.sw.Commands <- state.ShutdownCommand()
}

func (m *Manager) stopCurrentMiner() {
	if m.currentStop != nil {
		m.currentStop.Stop()
	}
	m.wg.Wait()
	m.currentStop = nil
}

// spawnMiner derives an address for the configured mode, ensures
// registration, fires an optional donation, then starts the worker pool in
// a detached goroutine so the event loop never blocks on mining (§5).
func (m *Manager) spawnMiner(c model.Challenge, r *rom.Rom) {
	kp, err := m.deriveAddress(c)
	if err != nil {
		m.log.Errorf("manager", "derive address for %s: %v", c.ChallengeID, err)
		return
	}

	m.ensureRegistered(kp)
	if m.cfg.DonateTo != "" {
		m.donate(kp)
	}

	stop := &mining.StopFlag{}
	m.currentStop = stop
	m.activeAddress = kp.Address

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		result := mining.Scavenge(stop, r, kp.Address, c, m.cfg.Threads)
		if result.Preimage == "" {
			return // cancelled before a hit was found
		}
		sol := model.PendingSolution{
			Address:         kp.Address,
			ChallengeID:     c.ChallengeID,
			Nonce:           result.Nonce,
			Preimage:        result.Preimage,
			HashOutput:      hex.EncodeToString(result.HashOutput),
			DonationAddress: m.cfg.DonateTo,
		}
		m.Commands <- SolutionFoundCommand(sol, result.TotalHashes, result.Elapsed)
	}()
}

// deriveAddress implements §4.4's per-mode derivation.
func (m *Manager) deriveAddress(c model.Challenge) (address.KeyPair, error) {
	switch m.cfg.Mode.Mode {
	case config.ModePersistent:
		return address.FromSecretKeyHex(m.cfg.Mode.SecretKeyHex)
	case config.ModeEphemeral:
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return address.KeyPair{}, fmt.Errorf("generate ephemeral seed: %w", err)
		}
		return address.Ephemeral(seed)
	case config.ModeMnemonic:
		return m.deriveMnemonicAddress(c)
	default:
		return address.KeyPair{}, fmt.Errorf("no key mode selected")
	}
}

// deriveMnemonicAddress walks forward from the persisted (or configured
// starting) cursor, skipping indices with an existing receipt, landing on
// the first clean index (§4.4, §9 "resume at the first unsolved index").
func (m *Manager) deriveMnemonicAddress(c model.Challenge) (address.KeyPair, error) {
	cursor := m.cfg.Mode.StartIndex

	reply := make(chan state.GetResult, 1)
	m.sw.Commands <- state.GetState(store.MnemonicCursorKey(c.ChallengeID), reply)
	res := <-reply
	if res.Err == nil {
		var parsed uint32
		if _, err := fmt.Sscanf(string(res.Value), "%d", &parsed); err == nil {
			cursor = parsed
		}
	}

	for {
		kp, err := address.DeriveMnemonic(m.cfg.Mode.Mnemonic, m.cfg.Mode.MnemonicAccount, cursor)
		if err != nil {
			return address.KeyPair{}, err
		}

		reply := make(chan state.GetResult, 1)
		m.sw.Commands <- state.GetState(store.ReceiptKey(kp.Address, c.ChallengeID), reply)
		res := <-reply
		if res.Err != nil {
			// no receipt: this index is clean
			m.sw.Commands <- state.SaveState(store.MnemonicCursorKey(c.ChallengeID), []byte(fmt.Sprintf("%d", cursor)))
			phraseSum := sha256.Sum256([]byte(m.cfg.Mode.Mnemonic))
			mnemonicHash := hex.EncodeToString(phraseSum[:])
			m.sw.Commands <- state.SaveState(store.MnemonicWalletKey(mnemonicHash, m.cfg.Mode.MnemonicAccount, cursor), []byte(kp.Address))
			return kp, nil
		}
		cursor++
	}
}

func (m *Manager) advanceMnemonicCursor(challengeID string) {
	reply := make(chan state.GetResult, 1)
	m.sw.Commands <- state.GetState(store.MnemonicCursorKey(challengeID), reply)
	res := <-reply
	var cursor uint32
	if res.Err == nil {
		fmt.Sscanf(string(res.Value), "%d", &cursor)
	}
	cursor++
	m.sw.Commands <- state.SaveState(store.MnemonicCursorKey(challengeID), []byte(fmt.Sprintf("%d", cursor)))
}

// ensureRegistered contacts the coordinator; on failure it signs and
// retries registration once with the T&C message (§4.4 step 3). Failures
// here are warnings, never fatal (§7).
func (m *Manager) ensureRegistered(kp address.KeyPair) {
	if m.registered[kp.Address] {
		return
	}
	if _, err := m.client.Statistics(kp.Address); err != nil {
		m.register(kp)
		return
	}
	m.registered[kp.Address] = true
}

func (m *Manager) register(kp address.KeyPair) {
	tandc, err := m.client.TandC()
	if err != nil {
		m.log.Warnf("manager", "fetch T&C for registration: %v", err)
		return
	}
	sig, pub, err := address.SignRegistration(kp, []byte(tandc.Message))
	if err != nil {
		m.log.Warnf("manager", "sign registration message: %v", err)
		return
	}
	if _, err := m.client.Register(kp.Address, sig, pub); err != nil {
		m.log.Warnf("manager", "register address %s: %v", kp.Address, err)
		return
	}
	m.registered[kp.Address] = true
}

// donate issues a synchronous, bounded-retry donation call (§7: 3 attempts
// for donation); never fatal on failure.
func (m *Manager) donate(kp address.KeyPair) {
	message := []byte(fmt.Sprintf("donate:%s:%s", kp.Address, m.cfg.DonateTo))
	sig, _, err := address.SignRegistration(kp, message)
	if err != nil {
		m.log.Warnf("manager", "sign donation message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < donationTries; attempt++ {
		if _, err := m.client.DonateTo(m.cfg.DonateTo, kp.Address, sig); err != nil {
			lastErr = err
			continue
		}
		return
	}
	if lastErr != nil {
		m.log.Warnf("manager", "donate_to %s failed after %d attempts: %v", m.cfg.DonateTo, donationTries, lastErr)
	}
}
