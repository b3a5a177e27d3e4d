package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// Decision is one human approve/reject verdict.
type Decision struct {
	ChangeID string               `json:"changeId"`
	Status   model.ApprovalStatus `json:"status"`
	Actor    string               `json:"actor"`
}

// DecisionSink receives verified decisions.
type DecisionSink interface {
	Record(ctx context.Context, d Decision) error
}

type interactivePayload struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// ParseDecision decodes a form-encoded interactive callback body. Call it
// only after Verify succeeded.
func ParseDecision(body []byte) (Decision, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return Decision{}, reconerrors.NewValidationError("payload", "body is not form encoded", err)
	}
	raw := form.Get("payload")
	if raw == "" {
		return Decision{}, reconerrors.NewValidationError("payload", "missing payload field", nil)
	}

	var payload interactivePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Decision{}, reconerrors.NewValidationError("payload", "payload is not valid JSON", err)
	}
	if len(payload.Actions) == 0 {
		return Decision{}, reconerrors.NewValidationError("payload", "payload carries no action", nil)
	}

	action := payload.Actions[0]
	var status model.ApprovalStatus
	switch action.ActionID {
	case ActionApprove:
		status = model.ApprovalApproved
	case ActionReject:
		status = model.ApprovalRejected
	default:
		return Decision{}, reconerrors.NewValidationError("payload", fmt.Sprintf("unknown action %q", logger.SafeToken(action.ActionID)), nil)
	}
	if _, err := model.ParseChangeID(action.Value); err != nil {
		return Decision{}, reconerrors.NewValidationError("payload", "invalid change id", err)
	}

	actor := payload.User.Username
	if actor == "" {
		actor = payload.User.ID
	}
	return Decision{ChangeID: action.Value, Status: status, Actor: actor}, nil
}

// Store is an in-memory DecisionSink. The latest decision per change wins.
type Store struct {
	mu        sync.RWMutex
	decisions map[string]Decision
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{decisions: make(map[string]Decision)}
}

// Record implements DecisionSink.
func (s *Store) Record(_ context.Context, d Decision) error {
	if !d.Status.IsValid() {
		return reconerrors.NewValidationError("status", "unknown approval status", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ChangeID] = d
	return nil
}

// Statuses returns the recorded status for every change.
func (s *Store) Statuses() map[string]model.ApprovalStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.ApprovalStatus, len(s.decisions))
	for id, d := range s.decisions {
		out[id] = d.Status
	}
	return out
}

// Decisions lists recorded decisions ordered by change id.
func (s *Store) Decisions() []Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Decision, 0, len(s.decisions))
	for _, d := range s.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangeID < out[j].ChangeID })
	return out
}
