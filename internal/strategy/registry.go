package strategy

import "fmt"

// #region registry

// Registry maps each Kind to its strategy. It is built once at startup.
type Registry struct {
	byKind map[Kind]Strategy
}

// NewRegistry builds one strategy per kind.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy config: %w", err)
	}
	r := &Registry{byKind: make(map[Kind]Strategy, len(Kinds()))}
	for _, k := range Kinds() {
		s, err := build(k, cfg)
		if err != nil {
			return nil, err
		}
		r.byKind[k] = s
	}
	return r, nil
}

func build(k Kind, cfg Config) (Strategy, error) {
	switch k {
	case Random:
		return &random{cfg: cfg}, nil
	case MostSimilar:
		return &mostSimilar{cfg: cfg}, nil
	case Entropy:
		return &entropy{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("build %q: %w", k, ErrUnknownStrategy)
	}
}

// Get returns the strategy for k.
func (r *Registry) Get(k Kind) (Strategy, error) {
	s, ok := r.byKind[k]
	if !ok {
		return nil, fmt.Errorf("%q: %w", k, ErrUnknownStrategy)
	}
	return s, nil
}

// #endregion
