// Package approval posts approval requests to a chat channel and verifies the
// signed interactive callbacks that come back.
package approval

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/reconciler/internal/connector/httpapi"
	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const (
	system = "approval"

	// ActionApprove and ActionReject are the button action ids.
	ActionApprove = "approve_change"
	ActionReject  = "reject_change"
)

// Config holds the chat API credentials.
type Config struct {
	BaseURL    string
	Token      string
	Channel    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Gateway sends approval requests. It satisfies change.ApprovalRequester.
type Gateway struct {
	channel string
	client  *httpapi.Client
	log     *logger.Logger
}

type postResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// NewGateway validates cfg and returns a Gateway.
func NewGateway(cfg Config, log *logger.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.Channel) == "" {
		return nil, reconerrors.NewConfigurationError(system, "token and channel are required")
	}
	client, err := httpapi.New(httpapi.Options{
		System:     system,
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Gateway{channel: cfg.Channel, client: client, log: log}, nil
}

// Request posts one interactive message for change. The chat API reports
// most failures in a 200 response, so ok=false is surfaced as an error.
func (g *Gateway) Request(ctx context.Context, change model.Change) error {
	var resp postResponse
	if _, err := g.client.Do(ctx, http.MethodPost, "chat.postMessage", nil, g.message(change), &resp); err != nil {
		return err
	}
	if !resp.OK {
		return reconerrors.NewTransportError(system, reconerrors.TransportStatus, http.StatusOK, fmt.Errorf("chat api: %s", logger.SafeToken(resp.Error)))
	}
	g.log.WithFields(map[string]any{"change_id": change.ID, "ts": resp.TS}).Info("approval requested")
	return nil
}

func (g *Gateway) message(change model.Change) map[string]any {
	risk := change.Risk
	if risk == "" {
		risk = model.RiskLow
	}
	summary := fmt.Sprintf("Approval required for `%s` (risk: *%s*)", change.ID, risk)
	var details []string
	for _, action := range change.Actions {
		details = append(details, "• "+action.Description)
	}

	blocks := []map[string]any{
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": summary},
		},
	}
	if len(details) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": strings.Join(details, "\n")},
		})
	}
	blocks = append(blocks, map[string]any{
		"type":     "actions",
		"block_id": "change_decision",
		"elements": []map[string]any{
			button("Approve", ActionApprove, change.ID, "primary"),
			button("Reject", ActionReject, change.ID, "danger"),
		},
	})

	return map[string]any{
		"channel": g.channel,
		"text":    summary,
		"blocks":  blocks,
	}
}

func button(label, actionID, value, style string) map[string]any {
	return map[string]any{
		"type":      "button",
		"text":      map[string]any{"type": "plain_text", "text": label},
		"action_id": actionID,
		"value":     value,
		"style":     style,
	}
}
