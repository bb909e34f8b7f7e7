package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture. Either
// Answers or Target drives the run: scripted answers are submitted round
// by round, a target is chased by a simulated user.
type Fixture struct {
	Description string          `json:"description"`
	Matrix      string          `json:"matrix"`
	Session     FixtureSession  `json:"session"`
	Config      FixtureConfig   `json:"config"`
	Answers     []string        `json:"answers,omitempty"`
	Target      string          `json:"target,omitempty"`
	Expected    FixtureExpected `json:"expected"`
}

// FixtureSession holds the retrieval parameters.
type FixtureSession struct {
	ID                string `json:"id"`
	Strategy          string `json:"strategy"`
	MaxIteration      int    `json:"max_iteration"`
	MaxIterationFaces int    `json:"max_iteration_faces"`
	Seed              int64  `json:"seed"`
	SeedPhoto         string `json:"seed_photo,omitempty"`
}

// FixtureConfig mirrors strategy.Config with JSON tags. Zero fields keep
// the defaults.
type FixtureConfig struct {
	KeepFraction float64 `json:"keep_fraction,omitempty"`
	MaxDistance  float64 `json:"max_distance,omitempty"`
	Epsilon      float64 `json:"epsilon,omitempty"`
}

// FixtureExpected captures the expected options per round and the outcome.
// Empty fields are not checked.
type FixtureExpected struct {
	Rounds [][]string `json:"rounds,omitempty"`
	Status string     `json:"status,omitempty"`
	Target string     `json:"target,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Answers) > 0 && f.Target != "" {
		return nil, fmt.Errorf("fixture %s: answers and target are exclusive", path)
	}
	return &f, nil
}

// ToMatrix parses the inline matrix in artifact format.
func (f *Fixture) ToMatrix() (*matrix.Matrix, error) {
	return matrix.Parse(strings.NewReader(f.Matrix))
}

// ToRetrieval converts the session block to a pending retrieval, filling
// defaults the way the engine does.
func (f *Fixture) ToRetrieval() session.Retrieval {
	s := f.Session
	r := session.Retrieval{
		ID:                s.ID,
		Strategy:          s.Strategy,
		MaxIteration:      s.MaxIteration,
		MaxIterationFaces: s.MaxIterationFaces,
		Seed:              s.Seed,
		SeedPhoto:         s.SeedPhoto,
		Status:            session.StatusPending,
	}
	if r.ID == "" {
		r.ID = "replay"
	}
	if r.Strategy == "" {
		r.Strategy = string(strategy.Random)
	}
	if r.MaxIteration == 0 {
		r.MaxIteration = session.DefaultMaxIteration
	}
	if r.MaxIterationFaces == 0 {
		r.MaxIterationFaces = session.DefaultMaxIterationFaces
	}
	return r
}

// ToStrategyConfig overlays the fixture config on the defaults.
func (fc FixtureConfig) ToStrategyConfig() strategy.Config {
	cfg := strategy.DefaultConfig()
	if fc.KeepFraction != 0 {
		cfg.KeepFraction = fc.KeepFraction
	}
	if fc.MaxDistance != 0 {
		cfg.MaxDistance = fc.MaxDistance
	}
	if fc.Epsilon != 0 {
		cfg.Epsilon = fc.Epsilon
	}
	return cfg
}

// Answerer returns the answerer the fixture describes.
func (f *Fixture) Answerer() Answerer {
	if f.Target != "" {
		return Oracle(f.Target)
	}
	return Scripted(f.Answers)
}

// #endregion fixture-loader
