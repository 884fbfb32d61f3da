package manager

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"scavenger/internal/address"
	"scavenger/internal/config"
	"scavenger/internal/coordinator"
	"scavenger/internal/logger"
	"scavenger/internal/model"
	"scavenger/internal/state"
	"scavenger/internal/store"
)

type harness struct {
	manager *Manager
	sw      *state.Worker
	st      *store.Store
}

func newHarness(t *testing.T, mode config.MiningMode, handler http.HandlerFunc) *harness {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log, err := logger.New(t.TempDir(), "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Close)

	client := coordinator.NewClient(srv.URL)
	sw := state.NewWorker(st, client, log)
	go sw.Run()
	t.Cleanup(func() { sw.Commands <- state.ShutdownCommand() })

	cfg := config.Defaults()
	cfg.AcceptTOS = true
	cfg.Threads = 2
	cfg.Mode = mode

	mgr := New(cfg, client, sw, log)
	mgr.SetROMParams(64*1024, 8*1024, 2)
	go mgr.Run()
	t.Cleanup(func() { mgr.Commands <- ShutdownCommand() })

	return &harness{manager: mgr, sw: sw, st: st}
}

func trivialChallenge(id string) model.Challenge {
	return model.Challenge{
		ChallengeID:      id,
		Difficulty:       "00",
		RomKey:           "seed-" + id,
		HourTag:          "h",
		LatestSubmission: time.Now().Add(time.Hour).Format(time.RFC3339Nano),
	}
}

func TestColdStartPersistentModeFindsSolution(t *testing.T) {
	var registered bool
	h := newHarness(t, config.MiningMode{Mode: config.ModePersistent, SecretKeyHex: "1122334455667788112233445566778811223344556677881122334455667788"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/TandC/1-0":
			json.NewEncoder(w).Encode(coordinator.TandCResponse{Version: "1.0", Message: "sign me"})
		case len(r.URL.Path) > 10 && r.URL.Path[:10] == "/register/":
			registered = true
			json.NewEncoder(w).Encode(coordinator.RegisterResponse{})
		case len(r.URL.Path) > 12 && r.URL.Path[:12] == "/statistics/":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(coordinator.APIError{StatusCode: 404, Message: "not registered"})
		case len(r.URL.Path) > 10 && r.URL.Path[:10] == "/solution/":
			json.NewEncoder(w).Encode(coordinator.SubmitResponse{CryptoReceipt: json.RawMessage(`{"ok":true}`)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	kp, err := address.FromSecretKeyHex(h.manager.cfg.Mode.SecretKeyHex)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}

	h.manager.Commands <- NewChallengeCommand(trivialChallenge("c1"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, chErr := h.st.Get(store.ChallengeKey("c1"))
		_, rcErr := h.st.Get(store.ReceiptKey(kp.Address, "c1"))
		if chErr == nil && rcErr == nil && registered {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("challenge was not persisted, address was not registered, or no receipt was stored in time")
}

func TestDuplicateNewChallengeIgnored(t *testing.T) {
	// Each miner spawn in ephemeral mode derives a fresh address and probes
	// it via /statistics/, so the probe count equals the number of spawns.
	var spawns atomic.Int32
	h := newHarness(t, config.NewEphemeralMode(), func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 12 && r.URL.Path[:12] == "/statistics/" {
			spawns.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(struct{}{})
	})

	c := trivialChallenge("dup")
	c.Difficulty = "00000000" // 32 zero bits: no solution (and respawn) within the test window
	h.manager.Commands <- NewChallengeCommand(c)
	time.Sleep(100 * time.Millisecond)
	h.manager.Commands <- NewChallengeCommand(c)
	time.Sleep(100 * time.Millisecond)

	reply := make(chan state.GetResult, 1)
	h.sw.Commands <- state.GetState(store.LastChallengeIDKey, reply)
	res := <-reply
	if res.Err != nil || string(res.Value) != "dup" {
		t.Fatalf("expected last_challenge_id=dup, got %q err=%v", res.Value, res.Err)
	}
	if got := spawns.Load(); got != 1 {
		t.Fatalf("expected exactly one miner spawn for a duplicated challenge, got %d", got)
	}
}
