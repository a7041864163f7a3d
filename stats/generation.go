package stats

import (
	"fmt"
	"io"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
)

// GenerationSummary aggregates the self-play games of one generation.
type GenerationSummary struct {
	Generation int
	Plies      Statistic
	P1Wins     int
	P2Wins     int
	Draws      int
	Examples   int

	lengths []float64
}

// AddGame records one finished game. result is from the first player's
// perspective.
func (g *GenerationSummary) AddGame(plies int, result float64, examples int) {
	g.Plies.Push(float64(plies))
	g.lengths = append(g.lengths, float64(plies))
	g.Examples += examples
	switch {
	case result > 0:
		g.P1Wins++
	case result < 0:
		g.P2Wins++
	default:
		g.Draws++
	}
}

// Merge adds the games recorded in o. The generation number is kept.
func (g *GenerationSummary) Merge(o *GenerationSummary) {
	g.Plies.Merge(o.Plies)
	g.lengths = append(g.lengths, o.lengths...)
	g.P1Wins += o.P1Wins
	g.P2Wins += o.P2Wins
	g.Draws += o.Draws
	g.Examples += o.Examples
}

func (g *GenerationSummary) Games() int {
	return g.P1Wins + g.P2Wins + g.Draws
}

func (g *GenerationSummary) String() string {
	var ss strings.Builder
	fmt.Fprintf(&ss, "Generation %d: %d games, %d examples\n", g.Generation, g.Games(), g.Examples)
	fmt.Fprintf(&ss, "%-12s%-9s%-9s%-9s\n", "", "P1", "P2", "Draws")
	fmt.Fprintf(&ss, "%-12s%-9d%-9d%-9d\n", "Results", g.P1Wins, g.P2Wins, g.Draws)
	fmt.Fprintf(&ss, "Game length: %.2f ± %.2f plies (min %.0f, max %.0f)",
		g.Plies.Mean(), g.Plies.Stdev(), g.Plies.Min(), g.Plies.Max())
	return ss.String()
}

// Histogram prints the distribution of game lengths.
func (g *GenerationSummary) Histogram(w io.Writer) error {
	if len(g.lengths) == 0 {
		_, err := fmt.Fprintln(w, "no games")
		return err
	}
	hist := histogram.Hist(10, g.lengths)
	return histogram.Fprint(w, hist, histogram.Linear(40))
}
