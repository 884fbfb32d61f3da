// Package mining implements the nonce-search worker pool (§4.3).
package mining

import (
	"sync"
	"sync/atomic"
	"time"

	"scavenger/internal/model"
	"scavenger/internal/rom"
	"scavenger/internal/vm"
)

const (
	hashLoops  = 8
	hashInstrs = 256
)

// StopFlag is the only shared mutable primitive between the search driver
// and its workers (§5 "Shared-resource policy").
type StopFlag struct {
	stopped atomic.Bool
}

func (f *StopFlag) Stop()         { f.stopped.Store(true) }
func (f *StopFlag) Stopped() bool { return f.stopped.Load() }

// Found is sent by a worker that discovered a nonce meeting the difficulty
// target (§4.3).
type Found struct {
	Nonce      uint64
	Preimage   string
	HashOutput []byte
}

// Progress reports a batch of attempted hashes, for rate computation.
type Progress struct {
	Hashes uint64
}

// Result is returned once the search concludes, one way or another (§4.3
// "Failure semantics": the search cannot fail, only find or be cancelled).
type Result struct {
	Nonce       uint64
	Preimage    string
	HashOutput  []byte
	TotalHashes uint64
	Elapsed     time.Duration
}

// Scavenge runs `threads` worker goroutines against a disjoint nonce
// partition, and returns on the first found nonce or when stop is already
// set externally. The caller owns the ROM and the address/challenge used
// to build each candidate preimage.
func Scavenge(stop *StopFlag, r *rom.Rom, address string, challenge model.Challenge, threads int) Result {
	start := time.Now()

	found := make(chan Found, 1)
	progress := make(chan Progress, 1024)
	var wg sync.WaitGroup

	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			worker(stop, r, address, challenge, uint64(threadID), uint64(threads), found, progress)
		}(t)
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	var total uint64
	var result Result
	drain := true
	for drain {
		select {
		case f, ok := <-found:
			if !ok {
				drain = false
				continue
			}
			if result.Preimage == "" {
				stop.Stop()
				result.Nonce = f.Nonce
				result.Preimage = f.Preimage
				result.HashOutput = f.HashOutput
			}
		case p, ok := <-progress:
			if !ok {
				continue
			}
			total += p.Hashes
		}
	}

	// Drain any remaining buffered progress without blocking.
	for {
		select {
		case p := <-progress:
			total += p.Hashes
		default:
			result.TotalHashes = total
			result.Elapsed = time.Since(start)
			return result
		}
	}
}

func worker(stop *StopFlag, r *rom.Rom, address string, challenge model.Challenge, start, stride uint64, found chan<- Found, progress chan<- Progress) {
	required := requiredZeroBits(challenge.Difficulty)
	nonce := start

	for {
		if stop.Stopped() {
			return
		}

		preimage := model.BuildPreimage(nonce, address, challenge)
		h, err := vm.Hash([]byte(preimage), r, hashLoops, hashInstrs)
		if err != nil {
			return
		}

		if vm.MeetsDifficulty(h[:], required) {
			select {
			case found <- Found{Nonce: nonce, Preimage: preimage, HashOutput: h[:]}:
			default:
			}
			return
		}

		if nonce&0xFF == 0 {
			select {
			case progress <- Progress{Hashes: 0x100}:
			default:
			}
		}

		nonce += stride
	}
}
