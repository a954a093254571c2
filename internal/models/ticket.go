package models

type TicketKind string

const (
	TicketKindSportsbook TicketKind = "sportsbook"
	TicketKindVirtual    TicketKind = "virtual"
)

type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "pending"
	TicketStatusWon       TicketStatus = "won"
	TicketStatusLost      TicketStatus = "lost"
	TicketStatusCashedOut TicketStatus = "cashed_out"
)

type LegStatus string

const (
	LegStatusPending LegStatus = "pending"
	LegStatusWon     LegStatus = "won"
	LegStatusLost    LegStatus = "lost"
)

type Leg struct {
	MatchID   string    `json:"match_id" redis:"match_id"`
	Selection string    `json:"selection" redis:"selection"`
	Odds      float64   `json:"odds" redis:"odds"`
	Status    LegStatus `json:"status" redis:"status"`
	Result    string    `json:"result,omitempty" redis:"result"`
}

type Ticket struct {
	ID     string     `json:"id" redis:"id"`
	UserID string     `json:"user_id" redis:"user_id"`
	Kind   TicketKind `json:"kind" redis:"kind"`

	// Stake and PotentialReturn are in the smallest currency unit.
	Stake           int64   `json:"stake" redis:"stake"`
	TotalOdds       float64 `json:"total_odds" redis:"total_odds"`
	PotentialReturn int64   `json:"potential_return" redis:"potential_return"`

	Status TicketStatus `json:"status" redis:"status"`
	Legs   []Leg        `json:"legs" redis:"legs"`

	CreatedAt int64 `json:"created_at" redis:"created_at"`
	SettledAt int64 `json:"settled_at,omitempty" redis:"settled_at"`
}

// Settled reports whether the ticket has left the pending state.
// Settled tickets must never transition again.
func (t *Ticket) Settled() bool {
	return t.Status != "" && t.Status != TicketStatusPending
}
