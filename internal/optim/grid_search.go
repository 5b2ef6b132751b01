package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/multierr"

	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/sim"
)

// Gain parameter names understood by ApplyParams.
const (
	ParamKP = "kP"
	ParamKI = "kI"
	ParamKD = "kD"
	ParamKF = "kF"
)

var ErrNoCandidate = errors.New("optim: no candidate finished")

// Trial runs one candidate parameter set and returns its result.
type Trial func(ctx context.Context, params map[string]float64) (*sim.Result, error)

// GridSearch evaluates every combination of parameter values.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64, workers int) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, workers: workers}
}

type Candidate struct {
	Params   map[string]float64
	Score    float64
	Finished bool
	Err      error
}

// Combinations expands the grid in declaration order, last name fastest.
func (g *GridSearch) Combinations() []map[string]float64 {
	combos := []map[string]float64{{}}
	for d, name := range g.paramNames {
		next := make([]map[string]float64, 0, len(combos)*len(g.ranges[d]))
		for _, c := range combos {
			for _, v := range g.ranges[d] {
				m := make(map[string]float64, len(c)+1)
				for k, x := range c {
					m[k] = x
				}
				m[name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// Search runs every combination in parallel and returns the candidate with
// the lowest metric among those whose command finished. Unfinished runs
// score +Inf.
func (g *GridSearch) Search(ctx context.Context, trial Trial, metricName string) (Candidate, []Candidate, error) {
	if len(g.paramNames) != len(g.ranges) {
		return Candidate{}, nil, fmt.Errorf("%w: %d names for %d ranges", drive.ErrInvalidConfig, len(g.paramNames), len(g.ranges))
	}

	combos := g.Combinations()
	jobs := make([]sim.Job, len(combos))
	for i, params := range combos {
		params := params
		jobs[i] = func(ctx context.Context) (*sim.Result, error) { return trial(ctx, params) }
	}
	results, err := sim.RunParallel(ctx, jobs, g.workers)

	all := make([]Candidate, len(combos))
	for i, res := range results {
		c := Candidate{Params: combos[i], Score: math.Inf(1)}
		switch {
		case res == nil:
			c.Err = fmt.Errorf("trial %v failed", combos[i])
		case res.Finished:
			c.Finished = true
			c.Score = res.Metrics[metricName]
		}
		all[i] = c
	}

	ranked := make([]Candidate, len(all))
	copy(ranked, all)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })
	if len(ranked) == 0 || !ranked[0].Finished {
		return Candidate{}, all, multierr.Append(err, ErrNoCandidate)
	}
	return ranked[0], all, err
}

// ApplyParams overrides the loop terms of base with any of kP, kI, kD, kF
// present in params.
func ApplyParams(base drive.GainProfile, params map[string]float64) drive.GainProfile {
	kp, ki, kd, kf := base.KP, base.KI, base.KD, base.KF
	if v, ok := params[ParamKP]; ok {
		kp = v
	}
	if v, ok := params[ParamKI]; ok {
		ki = v
	}
	if v, ok := params[ParamKD]; ok {
		kd = v
	}
	if v, ok := params[ParamKF]; ok {
		kf = v
	}
	return base.WithPIDF(kp, ki, kd, kf)
}
