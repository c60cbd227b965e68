package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/tutorcrm/internal/config"
	"go.uber.org/fx"
)

// Flow identifiers for multi-step chat conversations.
const (
	FlowRegistration  = "registration"
	FlowProfileCreate = "profile_create"
	FlowAdminCredit   = "admin_credit"
	StepWaitingName   = "waiting_name"
	StepWaitingGrade  = "waiting_grade"
	StepWaitingAmount = "waiting_amount"
)

// State is one account's position in a multi-step flow. It lives in redis
// with a TTL, so it survives restarts and multiple bot instances.
type State struct {
	Flow string            `json:"flow"`
	Step string            `json:"step"`
	Data map[string]string `json:"data,omitempty"`
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

type Params struct {
	fx.In

	Client *redis.Client
	Cfg    config.Config
}

func NewStore(p Params) *Store {
	return &Store{client: p.Client, ttl: p.Cfg.Redis.SessionTTL}
}

func key(telegramID string) string { return "session:" + telegramID }

// Get returns the current state, or nil when no flow is in progress.
func (s *Store) Get(ctx context.Context, telegramID string) (*State, error) {
	raw, err := s.client.Get(ctx, key(telegramID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt session is dropped rather than wedging the user.
		_ = s.client.Del(ctx, key(telegramID)).Err()
		return nil, nil
	}
	return &st, nil
}

func (s *Store) Put(ctx context.Context, telegramID string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(telegramID), raw, s.ttl).Err()
}

func (s *Store) Delete(ctx context.Context, telegramID string) error {
	return s.client.Del(ctx, key(telegramID)).Err()
}
