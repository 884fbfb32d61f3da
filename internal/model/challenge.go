// Package model holds the wire and storage data types shared across the
// mining engine's actors (§3).
package model

import "time"

// Challenge is an immutable snapshot issued by the coordinator (§3).
type Challenge struct {
	ChallengeID string `json:"challenge_id"`
	Difficulty  string `json:"difficulty"`
	RomKey      string `json:"rom_key"`
	HourTag     string `json:"hour_tag"`
	// LatestSubmission is carried verbatim as the coordinator sent it, never
	// parsed and reformatted: it is one of the preimage fields, and any
	// reserialisation risks diverging from the exact bytes the coordinator
	// will check the submission against (§3, §9).
	LatestSubmission string    `json:"latest_submission"`
	IssuedAt         time.Time `json:"issued_at"`
	Day              int       `json:"day"`
	ChallengeNumber  int       `json:"challenge_number"`
}

// Expired reports whether the local clock is past the submission deadline.
// Per §3's global invariant, the clock is only ever used to reject expired
// challenges, never to grant acceptance. A malformed deadline is treated as
// already expired.
func (c Challenge) Expired(now time.Time) bool {
	deadline, err := time.Parse(time.RFC3339Nano, c.LatestSubmission)
	if err != nil {
		return true
	}
	return now.After(deadline)
}

// ChallengeStatus is the decoded form of GET /challenge (§6).
type ChallengeStatus struct {
	Code                  string     `json:"code"` // active | before | after
	Challenge             *Challenge `json:"challenge,omitempty"`
	StartsAt              *time.Time `json:"starts_at,omitempty"`
	MiningPeriodEnds      *time.Time `json:"mining_period_ends,omitempty"`
	CurrentDay            int        `json:"current_day,omitempty"`
	MaxDay                int        `json:"max_day,omitempty"`
	TotalChallenges       int        `json:"total_challenges,omitempty"`
	NextChallengeStartsAt *time.Time `json:"next_challenge_starts_at,omitempty"`
}
