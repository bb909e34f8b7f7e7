package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
)

// #region messages
type createRequest struct {
	UserID            string `json:"user,omitempty"`
	Remark            string `json:"remark,omitempty"`
	Library           string `json:"library"`
	Distance          string `json:"distance"`
	Strategy          string `json:"strategy,omitempty"`
	MaxIteration      int    `json:"maxIteration,omitempty"`
	MaxIterationFaces int    `json:"maxIterationFaces,omitempty"`
	SeedPhoto         string `json:"seedPhoto,omitempty"`
}

type sessionRequest struct {
	ID     string `json:"id"`
	Round  int    `json:"round"`
	Answer string `json:"answer,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Round is the display form of one ledger round.
type Round struct {
	No           int        `json:"no"`
	Options      []string   `json:"options"`
	Distribution []float64  `json:"distribution"`
	Answer       string     `json:"answer,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	AnsweredAt   *time.Time `json:"answeredAt,omitempty"`
}

type historyResponse struct {
	ID     string  `json:"id"`
	Rounds []Round `json:"rounds"`
}

func roundOf(it ledger.Iteration) Round {
	r := Round{
		No:           it.No,
		Options:      it.Options,
		Distribution: it.Distribution,
		Answer:       it.Answer,
		CreatedAt:    it.CreatedAt,
	}
	if !it.AnsweredAt.IsZero() {
		at := it.AnsweredAt
		r.AnsweredAt = &at
	}
	return r
}

func (r createRequest) toSession() session.CreateRequest {
	return session.CreateRequest{
		UserID:            r.UserID,
		Remark:            r.Remark,
		Library:           r.Library,
		Distance:          r.Distance,
		Strategy:          r.Strategy,
		MaxIteration:      r.MaxIteration,
		MaxIterationFaces: r.MaxIterationFaces,
		SeedPhoto:         r.SeedPhoto,
	}
}
// #endregion messages

// #region struct-codec
// toStruct encodes v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return s, nil
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
// #endregion struct-codec
