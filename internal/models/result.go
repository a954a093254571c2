package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

func (s Score) String() string {
	return fmt.Sprintf("%d:%d", s.Home, s.Away)
}

// MatchID tolerates feeds that send identifiers as either JSON strings
// or numbers.
type MatchID string

func (m *MatchID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MatchID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = MatchID(n.String())
	return nil
}

type MatchResult struct {
	ID        MatchID `json:"id"`
	FullTime  Score   `json:"result_ft"`
	HalfTime  Score   `json:"result_ht"`
	FetchedAt int64   `json:"fetched_at,omitempty"`
}

// DisplayResult is the "2:1 (1:0)" annotation settled legs carry.
func (r MatchResult) DisplayResult() string {
	return fmt.Sprintf("%s (%s)", r.FullTime, r.HalfTime)
}
