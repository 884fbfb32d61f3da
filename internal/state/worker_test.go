package state

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scavenger/internal/coordinator"
	"scavenger/internal/logger"
	"scavenger/internal/model"
	"scavenger/internal/store"
)

func newTestWorker(t *testing.T, srvURL string) (*Worker, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log, err := logger.New(t.TempDir(), "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Close)

	var client *coordinator.Client
	if srvURL != "" {
		client = coordinator.NewClient(srvURL)
	}
	w := NewWorker(s, client, log)
	return w, s
}

func TestSaveAndGetState(t *testing.T) {
	w, _ := newTestWorker(t, "")
	go w.Run()
	defer func() { w.Commands <- ShutdownCommand() }()

	w.Commands <- SaveState("foo", []byte("bar"))

	reply := make(chan GetResult, 1)
	w.Commands <- GetState("foo", reply)
	res := <-reply
	if res.Err != nil {
		t.Fatalf("get: %v", res.Err)
	}
	if string(res.Value) != "bar" {
		t.Fatalf("got %q, want bar", res.Value)
	}
}

func TestSubmitSolutionAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(coordinator.SubmitResponse{CryptoReceipt: json.RawMessage(`{"ok":true}`)})
	}))
	defer srv.Close()

	w, s := newTestWorker(t, srv.URL)
	go w.Run()
	defer func() { w.Commands <- ShutdownCommand() }()

	sol := model.PendingSolution{Address: "addr1", ChallengeID: "c1", Nonce: 7, Preimage: "pre"}
	w.Commands <- SubmitSolution(sol)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get(store.ReceiptKey("addr1", "c1")); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("receipt was never recorded")
}

func TestSubmitSolutionPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(coordinator.APIError{StatusCode: http.StatusBadRequest, Message: "malformed nonce"})
	}))
	defer srv.Close()

	w, s := newTestWorker(t, srv.URL)
	go w.Run()
	defer func() { w.Commands <- ShutdownCommand() }()

	sol := model.PendingSolution{Address: "addr2", ChallengeID: "c2", Nonce: 9, Preimage: "pre"}
	w.Commands <- SubmitSolution(sol)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get(store.FailedKey("addr2", "c2", 9)); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("failed record was never written")
}

func TestSubmitSolutionWindowClosedLeavesPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(coordinator.APIError{StatusCode: http.StatusBadRequest, Message: "submission window closed"})
	}))
	defer srv.Close()

	w, s := newTestWorker(t, srv.URL)
	go w.Run()
	defer func() { w.Commands <- ShutdownCommand() }()

	sol := model.PendingSolution{Address: "addr4", ChallengeID: "c4", Nonce: 3, Preimage: "pre"}
	pendingKey := store.PendingKey("addr4", "c4", 3)
	w.Commands <- SubmitSolution(sol)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get(store.FailedKey("addr4", "c4", 3)); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := s.Get(pendingKey); err != nil {
		t.Fatalf("pending entry should remain for inspection after a window-closed rejection, got: %v", err)
	}
}

func TestSweepDropsExpiredPending(t *testing.T) {
	w, s := newTestWorker(t, "")
	go w.Run()
	defer func() { w.Commands <- ShutdownCommand() }()

	expired := model.Challenge{
		ChallengeID:      "cexp",
		LatestSubmission: time.Now().Add(-time.Hour).Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(expired)
	if err := s.Set(store.ChallengeKey("cexp"), data); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}

	sol := model.PendingSolution{Address: "addr3", ChallengeID: "cexp", Nonce: 1}
	solData, _ := json.Marshal(sol)
	pendingKey := store.PendingKey("addr3", "cexp", 1)
	if err := s.Set(pendingKey, solData); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	w.Commands <- SweepPending()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get(pendingKey); err == store.ErrNotFound {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expired pending entry was not swept")
}
