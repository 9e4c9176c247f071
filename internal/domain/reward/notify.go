package reward

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smartrx/smartrx/internal/platform/websocket"
)

const (
	EventRewardAwarded = "reward.awarded"
	EventRuleChanged   = "reward.rule_changed"
)

// RulesTopic carries catalog changes to every connected client.
var RulesTopic = websocket.PublicTopic("rules")

// Notifier tells a user about a recorded award and all clients about
// catalog changes.
type Notifier interface {
	NotifyAward(ctx context.Context, userID int64, result *AwardResult) error
	NotifyRuleChange(ctx context.Context, change RuleChange) error
}

// RuleChange describes a created, updated or deleted rule. Rule is nil for
// deletions.
type RuleChange struct {
	Action string `json:"action"`
	RuleID int64  `json:"rule_id"`
	Rule   *Rule  `json:"rule,omitempty"`
}

const (
	RuleCreated = "created"
	RuleUpdated = "updated"
	RuleDeleted = "deleted"
)

// HubNotifier publishes awards to the user's websocket topic and rule
// changes to RulesTopic.
type HubNotifier struct {
	publisher websocket.EventPublisher
}

func NewHubNotifier(publisher websocket.EventPublisher) *HubNotifier {
	return &HubNotifier{publisher: publisher}
}

func (n *HubNotifier) NotifyAward(ctx context.Context, userID int64, result *AwardResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal award: %w", err)
	}
	return n.publisher.Publish(ctx, websocket.Event{
		Type:  EventRewardAwarded,
		Topic: websocket.UserTopic(userID),
		Data:  data,
	})
}

func (n *HubNotifier) NotifyRuleChange(ctx context.Context, change RuleChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal rule change: %w", err)
	}
	return n.publisher.Publish(ctx, websocket.Event{
		Type:  EventRuleChanged,
		Topic: RulesTopic,
		Data:  data,
	})
}
