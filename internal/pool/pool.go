package pool

// #region pool
// Pool is the candidate set of one retrieval session. Photos keep the
// order they were given in (the matrix header order); a photo stays a
// candidate until it is shown in a round or eliminated by narrowing.
//
// Pool is not safe for concurrent use; the session owning it serializes
// access.
type Pool struct {
	photos     []string
	index      map[string]int
	shown      []bool
	eliminated []bool
	remaining  int
}

// New creates a pool over photos. Duplicate ids keep their first position.
func New(photos []string) *Pool {
	p := &Pool{index: make(map[string]int, len(photos))}
	for _, id := range photos {
		if _, dup := p.index[id]; dup {
			continue
		}
		p.index[id] = len(p.photos)
		p.photos = append(p.photos, id)
	}
	p.shown = make([]bool, len(p.photos))
	p.eliminated = make([]bool, len(p.photos))
	p.remaining = len(p.photos)
	return p
}
// #endregion pool

// #region mutate
// Exclude marks ids as shown. Unknown and already excluded ids are ignored.
func (p *Pool) Exclude(ids ...string) {
	for _, id := range ids {
		i, ok := p.index[id]
		if !ok || p.shown[i] {
			continue
		}
		if !p.eliminated[i] {
			p.remaining--
		}
		p.shown[i] = true
	}
}

// Eliminate rules ids out as candidates without marking them shown.
func (p *Pool) Eliminate(ids ...string) {
	for _, id := range ids {
		i, ok := p.index[id]
		if !ok || p.eliminated[i] {
			continue
		}
		if !p.shown[i] {
			p.remaining--
		}
		p.eliminated[i] = true
	}
}
// #endregion mutate

// #region query
func (p *Pool) live(i int) bool { return !p.shown[i] && !p.eliminated[i] }

// Remaining returns the current candidates in header order, or an empty
// slice once the pool is exhausted.
func (p *Pool) Remaining() []string {
	out := make([]string, 0, p.remaining)
	for i, id := range p.photos {
		if p.live(i) {
			out = append(out, id)
		}
	}
	return out
}

// Size returns the number of remaining candidates.
func (p *Pool) Size() int { return p.remaining }

// Total returns the number of photos the pool was created with.
func (p *Pool) Total() int { return len(p.photos) }

// Contains reports whether id is still a candidate.
func (p *Pool) Contains(id string) bool {
	i, ok := p.index[id]
	return ok && p.live(i)
}

// WasShown reports whether id has been offered in a round.
func (p *Pool) WasShown(id string) bool {
	i, ok := p.index[id]
	return ok && p.shown[i]
}

// Shown returns the shown photos in header order.
func (p *Pool) Shown() []string { return p.collect(p.shown) }

// Eliminated returns the eliminated photos in header order.
func (p *Pool) Eliminated() []string { return p.collect(p.eliminated) }

func (p *Pool) collect(flags []bool) []string {
	var out []string
	for i, f := range flags {
		if f {
			out = append(out, p.photos[i])
		}
	}
	return out
}

// Clone returns an independent copy. The header and index are shared
// since they never change after New.
func (p *Pool) Clone() *Pool {
	return &Pool{
		photos:     p.photos,
		index:      p.index,
		shown:      append([]bool(nil), p.shown...),
		eliminated: append([]bool(nil), p.eliminated...),
		remaining:  p.remaining,
	}
}
// #endregion query
