package settlement

import (
	"errors"

	"sportsbook-settlement-backend/internal/models"
)

// ResultLookup resolves a match id to its final result, consulting the
// current feed batch first and history second. The second return is
// false when no result is known anywhere.
type ResultLookup func(matchID string) (models.MatchResult, bool)

// Resolution is the outcome of one reconciliation of a single ticket.
// GrammarErrors carries the selections this pass could not decode;
// the affected legs stay pending and callers surface the errors so a
// stuck ticket is visible to operators.
type Resolution struct {
	Status        models.TicketStatus
	Legs          []models.Leg
	GrammarErrors []*GrammarError
}

// ResolveTicket evaluates every leg of a ticket against the supplied
// lookup and derives the ticket's next status:
//
//   - a single lost leg fixes the ticket to lost immediately, even if
//     other legs have no result yet
//   - all legs resolved and won makes the ticket won
//   - anything else leaves it pending
//
// Legs whose selection cannot be parsed, or whose match has no known
// result, stay pending; they are never guessed.
func ResolveTicket(ticket models.Ticket, lookup ResultLookup) Resolution {
	anyLost := false
	allWon := len(ticket.Legs) > 0

	var grammarErrs []*GrammarError
	legs := make([]models.Leg, 0, len(ticket.Legs))
	for _, leg := range ticket.Legs {
		res, found := lookup(leg.MatchID)
		if !found {
			leg.Status = models.LegStatusPending
			allWon = false
			legs = append(legs, leg)
			continue
		}

		parsed, err := ParseSelection(leg.Selection)
		if err != nil {
			// Unknown grammar: the leg stays pending forever rather
			// than settling money on a guess.
			var ge *GrammarError
			if errors.As(err, &ge) {
				grammarErrs = append(grammarErrs, ge)
			}
			leg.Status = models.LegStatusPending
			allWon = false
			legs = append(legs, leg)
			continue
		}

		if Evaluate(parsed, res) {
			leg.Status = models.LegStatusWon
		} else {
			leg.Status = models.LegStatusLost
			anyLost = true
			allWon = false
		}
		leg.Result = res.DisplayResult()
		legs = append(legs, leg)
	}

	status := models.TicketStatusPending
	switch {
	case anyLost:
		status = models.TicketStatusLost
	case allWon:
		status = models.TicketStatusWon
	}

	return Resolution{Status: status, Legs: legs, GrammarErrors: grammarErrs}
}

// CappedPayout limits a winning ticket's credit to the global ceiling.
func CappedPayout(potentialReturn, ceiling int64) int64 {
	if potentialReturn > ceiling {
		return ceiling
	}
	return potentialReturn
}
