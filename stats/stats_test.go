package stats

import (
	"math"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestRunningStat(t *testing.T) {
	is := is.New(t)
	type tc struct {
		scores []int
		mean   float64
		stdev  float64
	}
	cases := []tc{
		{[]int{10, 12, 23, 23, 16, 23, 21, 16}, 18, 5.2372293656638},
		{[]int{14, 35, 71, 124, 10, 24, 55, 33, 87, 19}, 47.2, 36.937785531891},
		{[]int{1}, 1, 0},
		{[]int{}, 0, 0},
		{[]int{1, 1}, 1, 0},
	}
	for _, c := range cases {
		s := &Statistic{}
		for _, score := range c.scores {
			s.Push(float64(score))
		}
		is.True(FuzzyEqual(s.Mean(), c.mean))
		is.True(FuzzyEqual(s.Stdev(), c.stdev))

	}
}

func TestMergeMatchesPushingEverything(t *testing.T) {
	is := is.New(t)
	vals := []float64{14, 35, 71, 124, 10, 24, 55, 33, 87, 19}
	var all, a, b Statistic
	for i, v := range vals {
		all.Push(v)
		if i < 4 {
			a.Push(v)
		} else {
			b.Push(v)
		}
	}
	a.Merge(b)
	is.Equal(a.Count(), all.Count())
	is.True(FuzzyEqual(a.Mean(), all.Mean()))
	is.True(FuzzyEqual(a.Stdev(), all.Stdev()))
	is.Equal(a.Min(), 10.0)
	is.Equal(a.Max(), 124.0)

	var empty Statistic
	empty.Merge(all)
	is.True(FuzzyEqual(empty.Mean(), 47.2))
	all.Merge(Statistic{})
	is.Equal(all.Count(), 10)
}

func TestConfidenceInterval(t *testing.T) {
	is := is.New(t)
	var s Statistic
	for _, v := range []float64{1, 0, 1, 1, 0, 1, 0, 1} {
		s.Push(v)
	}
	lower, upper := s.ConfidenceInterval(95)
	is.True(lower < s.Mean() && s.Mean() < upper)
	is.True(FuzzyEqual(upper-s.Mean(), ZVal(95)*s.StandardError()))

	var none Statistic
	lower, upper = none.ConfidenceInterval(95)
	is.Equal(lower, 0.0)
	is.Equal(upper, 0.0)
}

func TestGenerationSummary(t *testing.T) {
	is := is.New(t)
	g := &GenerationSummary{Generation: 2}
	g.AddGame(5, 1, 40)
	g.AddGame(9, 0, 72)
	g.AddGame(6, -1, 48)
	g.AddGame(7, 1, 56)
	is.Equal(g.Games(), 4)
	is.Equal(g.P1Wins, 2)
	is.Equal(g.P2Wins, 1)
	is.Equal(g.Draws, 1)
	is.Equal(g.Examples, 216)
	is.True(FuzzyEqual(g.Plies.Mean(), 6.75))
	is.True(strings.Contains(g.String(), "Generation 2: 4 games, 216 examples"))
	is.True(strings.Contains(g.String(), "(min 5, max 9)"))

	var sb strings.Builder
	is.NoErr(g.Histogram(&sb))
	is.True(sb.Len() > 0)
}

func TestGenerationSummaryMerge(t *testing.T) {
	is := is.New(t)
	whole := &GenerationSummary{Generation: 3}
	a := &GenerationSummary{Generation: 3}
	b := &GenerationSummary{}
	games := []struct {
		plies    int
		result   float64
		examples int
	}{{5, 1, 40}, {9, 0, 72}, {6, -1, 48}, {7, 1, 56}, {8, -1, 64}}
	for i, g := range games {
		whole.AddGame(g.plies, g.result, g.examples)
		if i < 2 {
			a.AddGame(g.plies, g.result, g.examples)
		} else {
			b.AddGame(g.plies, g.result, g.examples)
		}
	}
	a.Merge(b)
	is.Equal(a.Generation, 3)
	is.Equal(a.Games(), whole.Games())
	is.Equal(a.P1Wins, whole.P1Wins)
	is.Equal(a.P2Wins, whole.P2Wins)
	is.Equal(a.Draws, whole.Draws)
	is.Equal(a.Examples, whole.Examples)
	is.True(FuzzyEqual(a.Plies.Mean(), whole.Plies.Mean()))
	is.True(FuzzyEqual(a.Plies.Stdev(), whole.Plies.Stdev()))
	is.Equal(a.lengths, whole.lengths)
	is.Equal(a.String(), whole.String())
}

func TestZVal(t *testing.T) {
	is := is.New(t)
	is.True(math.Abs(ZVal(95)-1.959964) < 1e-5)
}
