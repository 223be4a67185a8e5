// Package realtime fans board mutation events out over Redis pub/sub.
// Each board gets its own channel so subscribers only receive events
// for boards they watch.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Event names mirror the client vocabulary: entity, colon, verb.
const (
	EventCardCreated        = "card:created"
	EventCardUpdated        = "card:updated"
	EventCardDeleted        = "card:deleted"
	EventCardMoved          = "card:moved"
	EventCardAssigneeAdded  = "card:assignee_added"
	EventCardAssigneeRemove = "card:assignee_removed"
	EventCardLabelAdded     = "card:label_added"
	EventCardLabelRemoved   = "card:label_removed"
	EventListCreated        = "list:created"
	EventListUpdated        = "list:updated"
	EventListDeleted        = "list:deleted"
	EventListMoved          = "list:moved"
	EventBoardUpdated       = "board:updated"
	EventMemberAdded        = "board:member_added"
	EventMemberRemoved      = "board:member_removed"
	EventMemberRoleUpdated  = "board:member_role_updated"
	EventCommentCreated     = "comment:created"
	EventCommentDeleted     = "comment:deleted"
)

// Message is the envelope published for every board mutation.
// AffectedParentIDs names the sibling sets whose positions changed so
// clients know which collections to refetch.
type Message struct {
	Event             string   `json:"event"`
	Payload           any      `json:"payload"`
	AffectedParentIDs []string `json:"affectedParentIds,omitempty"`
}

func channelFor(boardID string) string {
	return fmt.Sprintf("taskboard:board:%s", boardID)
}

type Publisher struct {
	client *redis.Client
	logger *log.Logger
}

func NewPublisher(client *redis.Client, logger *log.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends msg to the board's channel. Delivery is best effort:
// failures are logged and never surfaced to the request that caused
// the mutation.
func (p *Publisher) Publish(ctx context.Context, boardID string, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		p.logger.Printf("realtime: marshal %s event: %v", msg.Event, err)
		return
	}
	if err := p.client.Publish(ctx, channelFor(boardID), raw).Err(); err != nil {
		p.logger.Printf("realtime: publish %s to board %s: %v", msg.Event, boardID, err)
	}
}

// Subscribe opens a subscription to a board's channel and pumps decoded
// messages into the returned channel until ctx is cancelled. Malformed
// payloads are logged and skipped.
func (p *Publisher) Subscribe(ctx context.Context, boardID string) (<-chan Message, error) {
	sub := p.client.Subscribe(ctx, channelFor(boardID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe board %s: %w", boardID, err)
	}

	out := make(chan Message, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					p.logger.Printf("realtime: decode event on %s: %v", raw.Channel, err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
