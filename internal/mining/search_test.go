package mining

import (
	"testing"
	"time"

	"scavenger/internal/model"
	"scavenger/internal/rom"
)

func TestScavengeFindsTrivialDifficulty(t *testing.T) {
	r, err := rom.Build([]byte("123"), 1024*1024, 16*1024, 2)
	if err != nil {
		t.Fatalf("build rom: %v", err)
	}

	challenge := model.Challenge{
		ChallengeID:      "c1",
		Difficulty:       "00",
		RomKey:           "123",
		HourTag:          "h1",
		LatestSubmission: time.Now().Add(time.Hour).Format(time.RFC3339Nano),
	}

	stop := &StopFlag{}
	result := Scavenge(stop, r, "addr1", challenge, 2)

	if result.Preimage == "" {
		t.Fatalf("expected a solution for trivial difficulty")
	}
	gotNonce, err := model.ParseNonceHex(result.Preimage)
	if err != nil {
		t.Fatalf("parse nonce: %v", err)
	}
	if gotNonce != result.Nonce {
		t.Fatalf("preimage nonce mismatch: %d vs %d", gotNonce, result.Nonce)
	}
}

func TestStopFlagCancelsWorkers(t *testing.T) {
	stop := &StopFlag{}
	if stop.Stopped() {
		t.Fatalf("fresh stop flag should not be stopped")
	}
	stop.Stop()
	if !stop.Stopped() {
		t.Fatalf("stop flag did not latch")
	}

	r, err := rom.Build([]byte("123"), 64*1024, 8*1024, 2)
	if err != nil {
		t.Fatalf("build rom: %v", err)
	}
	challenge := model.Challenge{
		ChallengeID:      "c1",
		Difficulty:       "00",
		RomKey:           "123",
		HourTag:          "h1",
		LatestSubmission: time.Now().Add(time.Hour).Format(time.RFC3339Nano),
	}
	result := Scavenge(stop, r, "addr1", challenge, 2)
	if result.Preimage != "" {
		t.Fatalf("search with a set stop flag returned a solution (nonce %d)", result.Nonce)
	}
}
