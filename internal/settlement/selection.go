// Package settlement holds the pure decision logic: parsing stored
// selection strings into typed market picks, evaluating them against
// match results, and deriving a ticket's next status. Nothing here
// touches the store or the network.
package settlement

import (
	"fmt"
	"strconv"
	"strings"

	"sportsbook-settlement-backend/internal/models"
)

type Market int

const (
	MarketFullTime Market = iota
	MarketHalfTime
	MarketTotals
	MarketBothScore
	MarketCorrectScore
)

type Half int

const (
	HalfFull Half = iota
	HalfFirst
)

// ParsedLeg is a selection string decoded into its market family and pick.
type ParsedLeg struct {
	Market Market

	// Pick is the 1/X/2 pick for win markets, or the exact score for
	// correct-score ("2:1").
	Pick string

	// Threshold is the goal line for totals markets.
	Threshold float64
	// Over is the totals direction.
	Over bool

	// BothScore reports the Goal-Goal pick; Half selects FT or HT
	// for both-teams-to-score.
	BothScore bool
	Half      Half
}

// GrammarError marks a selection the settlement pass must leave pending.
// Money must never move on a selection we cannot decode.
type GrammarError struct {
	Selection string
	Reason    string
}

func (e *GrammarError) Error() string {
	return fmt.Sprintf("unparseable selection %q: %s", e.Selection, e.Reason)
}

// ParseSelection decodes a market-tagged selection string.
//
// Recognized forms:
//
//	"FT: 1" | "FT: X" | "FT: 2"
//	"HT: 1" | "HT: X" | "HT: 2"
//	"U/O 2.5: Over 2.5" | "U/O 2.5: Under 2.5"   (any numeric line)
//	"BTTS FT: Goal-Goal" | "BTTS FT: No-Goal"
//	"BTTS HT: Goal-Goal" | "BTTS HT: No-Goal"
//	"CS: 2:1"
func ParseSelection(sel string) (ParsedLeg, error) {
	switch {
	case strings.HasPrefix(sel, "FT: "):
		return parseWinPick(sel, strings.TrimPrefix(sel, "FT: "), MarketFullTime)

	case strings.HasPrefix(sel, "HT: "):
		return parseWinPick(sel, strings.TrimPrefix(sel, "HT: "), MarketHalfTime)

	case strings.HasPrefix(sel, "U/O "):
		return parseTotals(sel)

	case strings.HasPrefix(sel, "BTTS FT: "):
		return parseBothScore(sel, strings.TrimPrefix(sel, "BTTS FT: "), HalfFull)

	case strings.HasPrefix(sel, "BTTS HT: "):
		return parseBothScore(sel, strings.TrimPrefix(sel, "BTTS HT: "), HalfFirst)

	case strings.HasPrefix(sel, "CS: "):
		return parseCorrectScore(sel, strings.TrimPrefix(sel, "CS: "))
	}

	return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "unknown market prefix"}
}

func parseWinPick(sel, pick string, market Market) (ParsedLeg, error) {
	switch pick {
	case "1", "X", "2":
		return ParsedLeg{Market: market, Pick: pick}, nil
	}
	return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "pick must be 1, X or 2"}
}

// parseTotals handles "U/O <line>: Over <line>" / "U/O <line>: Under <line>".
func parseTotals(sel string) (ParsedLeg, error) {
	rest := strings.TrimPrefix(sel, "U/O ")
	line, pick, ok := strings.Cut(rest, ": ")
	if !ok {
		return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "missing pick separator"}
	}

	threshold, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "invalid goal line"}
	}

	switch {
	case strings.HasPrefix(pick, "Over "):
		return ParsedLeg{Market: MarketTotals, Threshold: threshold, Over: true}, nil
	case strings.HasPrefix(pick, "Under "):
		return ParsedLeg{Market: MarketTotals, Threshold: threshold, Over: false}, nil
	}
	return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "pick must be Over or Under"}
}

func parseBothScore(sel, pick string, half Half) (ParsedLeg, error) {
	switch pick {
	case "Goal-Goal":
		return ParsedLeg{Market: MarketBothScore, BothScore: true, Half: half}, nil
	case "No-Goal":
		return ParsedLeg{Market: MarketBothScore, BothScore: false, Half: half}, nil
	}
	return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "pick must be Goal-Goal or No-Goal"}
}

func parseCorrectScore(sel, pick string) (ParsedLeg, error) {
	home, away, ok := strings.Cut(pick, ":")
	if !ok {
		return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "score must be home:away"}
	}
	if _, err := strconv.Atoi(home); err != nil {
		return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "invalid home score"}
	}
	if _, err := strconv.Atoi(away); err != nil {
		return ParsedLeg{}, &GrammarError{Selection: sel, Reason: "invalid away score"}
	}
	return ParsedLeg{Market: MarketCorrectScore, Pick: pick}, nil
}

func evalWinPick(pick string, score models.Score) bool {
	switch pick {
	case "1":
		return score.Home > score.Away
	case "X":
		return score.Home == score.Away
	case "2":
		return score.Away > score.Home
	}
	return false
}

// Evaluate decides a parsed leg against a final match result.
func Evaluate(leg ParsedLeg, res models.MatchResult) bool {
	switch leg.Market {
	case MarketFullTime:
		return evalWinPick(leg.Pick, res.FullTime)
	case MarketHalfTime:
		return evalWinPick(leg.Pick, res.HalfTime)
	case MarketTotals:
		total := float64(res.FullTime.Home + res.FullTime.Away)
		if leg.Over {
			return total > leg.Threshold
		}
		return total < leg.Threshold
	case MarketBothScore:
		score := res.FullTime
		if leg.Half == HalfFirst {
			score = res.HalfTime
		}
		bothScored := score.Home > 0 && score.Away > 0
		return bothScored == leg.BothScore
	case MarketCorrectScore:
		return leg.Pick == res.FullTime.String()
	}
	return false
}
