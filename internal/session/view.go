package session

import "time"

// View is the display form of a session consumed by presentation layers.
type View struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user,omitempty"`
	Remark            string     `json:"remark,omitempty"`
	Library           string     `json:"library"`
	Distance          string     `json:"distance"`
	Artifact          string     `json:"artifact,omitempty"`
	Strategy          string     `json:"strategy"`
	Status            Status     `json:"status"`
	Round             int        `json:"round"`
	MaxIteration      int        `json:"maxIteration"`
	MaxIterationFaces int        `json:"maxIterationFaces"`
	Options           []string   `json:"options,omitempty"`
	Distribution      []float64  `json:"distribution,omitempty"`
	Target            string     `json:"target,omitempty"`
	BestEstimate      string     `json:"bestEstimate,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Remaining         int        `json:"remaining"`
	Shown             int        `json:"shown"`
	Eliminated        int        `json:"eliminated"`
	Total             int        `json:"total"`
	Detached          bool       `json:"detached,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
}

// View renders the session. Options are those of the open round; the
// best estimate is reported only once a session is exhausted. Shown and
// Eliminated count the photos taken out of the pool by rounds and by
// narrowing; a photo can be both.
func (s *Session) View() View {
	v := View{
		ID:                s.r.ID,
		UserID:            s.r.UserID,
		Remark:            s.r.Remark,
		Library:           s.r.Library,
		Distance:          s.r.Distance,
		Artifact:          s.r.Artifact,
		Strategy:          s.r.Strategy,
		Status:            s.r.Status,
		Round:             s.r.IteratorPointer,
		MaxIteration:      s.r.MaxIteration,
		MaxIterationFaces: s.r.MaxIterationFaces,
		Target:            s.r.Target,
		Reason:            s.r.Reason,
		Remaining:         s.Remaining(),
		Detached:          s.Detached(),
		CreatedAt:         s.r.CreatedAt,
		UpdatedAt:         s.r.UpdatedAt,
	}
	switch {
	case s.pool != nil:
		v.Shown = len(s.pool.Shown())
		v.Eliminated = len(s.pool.Eliminated())
		v.Total = s.pool.Total()
	case s.m != nil:
		v.Total = s.m.Len()
	}
	if it, ok := s.OpenRound(); ok {
		v.Options = append([]string(nil), it.Options...)
		v.Distribution = append([]float64(nil), it.Distribution...)
	}
	if s.r.Status == StatusExhausted {
		v.BestEstimate = s.Estimate()
	}
	if !s.r.EndedAt.IsZero() {
		ended := s.r.EndedAt
		v.EndedAt = &ended
	}
	return v
}
