// Package space expands a parameter specification into the concrete
// combinations still missing from a campaign.
package space

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
)

// ErrInvalidSpec is returned when a specification does not match the
// campaign's declared parameters.
var ErrInvalidSpec = errors.New("invalid parameter specification")

// RepetitionStore answers how many repetitions a fingerprint already has and
// hands out unused repetition indices.
type RepetitionStore interface {
	CountRepetitions(ctx context.Context, fingerprint models.ParameterCombination) (int, error)
	NextRngRuns(ctx context.Context, fingerprint models.ParameterCombination, count int) ([]int, error)
}

// Validate checks that spec binds exactly the declared parameters, RngRun
// excluded.
func Validate(spec models.ParameterSpec, declared []string) error {
	if _, ok := spec[models.RngRunParam]; ok {
		return fmt.Errorf("%w: %s is allocated by the campaign and cannot be bound", ErrInvalidSpec, models.RngRunParam)
	}
	for _, name := range declared {
		if name == models.RngRunParam {
			continue
		}
		if _, ok := spec[name]; !ok {
			return fmt.Errorf("%w: missing parameter %s", ErrInvalidSpec, name)
		}
	}
	for _, name := range spec.Names() {
		if !slices.Contains(declared, name) {
			return fmt.Errorf("%w: unknown parameter %s", ErrInvalidSpec, name)
		}
	}
	return nil
}

// Fingerprints returns the cartesian product of spec's candidate values.
// Parameters vary in sorted name order with the last name varying fastest.
func Fingerprints(spec models.ParameterSpec) ([]models.ParameterCombination, error) {
	names := spec.Names()
	candidates := make([][]any, len(names))
	for i, name := range names {
		values, err := spec.Candidates(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if len(values) == 0 {
			return nil, nil
		}
		candidates[i] = values
	}

	out := []models.ParameterCombination{{}}
	for i, name := range names {
		next := make([]models.ParameterCombination, 0, len(out)*len(candidates[i]))
		for _, partial := range out {
			for _, v := range candidates[i] {
				combo := partial.Clone()
				combo[name] = v
				next = append(next, combo)
			}
		}
		out = next
	}
	return out, nil
}

// Expand returns, for every fingerprint of spec, as many new combinations as
// are needed to reach runs repetitions. Each new combination carries a
// repetition index not yet used for its fingerprint.
func Expand(ctx context.Context, spec models.ParameterSpec, runs int, store RepetitionStore) ([]models.ParameterCombination, error) {
	if runs < 0 {
		return nil, fmt.Errorf("%w: runs cannot be negative, got %d", ErrInvalidSpec, runs)
	}
	if _, ok := spec[models.RngRunParam]; ok {
		return nil, fmt.Errorf("%w: %s is allocated by the campaign and cannot be bound", ErrInvalidSpec, models.RngRunParam)
	}

	fingerprints, err := Fingerprints(spec)
	if err != nil {
		return nil, err
	}

	var missing []models.ParameterCombination
	for _, fp := range fingerprints {
		existing, err := store.CountRepetitions(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("count repetitions of %s: %w", fp.Key(), err)
		}
		deficit := runs - existing
		if deficit <= 0 {
			continue
		}
		rngRuns, err := store.NextRngRuns(ctx, fp, deficit)
		if err != nil {
			return nil, fmt.Errorf("allocate repetitions of %s: %w", fp.Key(), err)
		}
		for _, run := range rngRuns {
			missing = append(missing, fp.WithRngRun(run))
		}
	}
	return missing, nil
}
