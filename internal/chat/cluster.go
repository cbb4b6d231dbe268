package chat

import (
	"time"

	"github.com/google/uuid"

	"parley/internal/models"
)

// ClusterGap is the maximum silence between two consecutive messages that
// still lands them in the same visual cluster.
const ClusterGap = 30 * time.Second

// Cluster is a presentation-only grouping of consecutive same-sender
// messages within ClusterGap of each other. Only the last message of a
// cluster carries a rendered timestamp; Timestamp is that message's
// CreatedAt. Nothing here is ever persisted.
type Cluster struct {
	SenderID  uuid.UUID         `json:"senderId"`
	Messages  []*models.Message `json:"messages"`
	Timestamp time.Time         `json:"timestamp"`
}

// BuildClusters groups an ascending message sequence into clusters. A new
// cluster starts when the sender changes or the gap since the previous
// message exceeds ClusterGap. Flatten(BuildClusters(m)) == m for any input.
func BuildClusters(messages []*models.Message) []Cluster {
	if len(messages) == 0 {
		return nil
	}

	var clusters []Cluster
	current := Cluster{
		SenderID: messages[0].SenderID,
		Messages: []*models.Message{messages[0]},
	}

	for _, msg := range messages[1:] {
		prev := current.Messages[len(current.Messages)-1]
		if msg.SenderID != current.SenderID || msg.CreatedAt.Sub(prev.CreatedAt) > ClusterGap {
			current.Timestamp = prev.CreatedAt
			clusters = append(clusters, current)
			current = Cluster{
				SenderID: msg.SenderID,
				Messages: []*models.Message{msg},
			}
			continue
		}
		current.Messages = append(current.Messages, msg)
	}

	current.Timestamp = current.Messages[len(current.Messages)-1].CreatedAt
	return append(clusters, current)
}

// Flatten restores the original ordered sequence from its clusters.
func Flatten(clusters []Cluster) []*models.Message {
	var messages []*models.Message
	for _, c := range clusters {
		messages = append(messages, c.Messages...)
	}
	return messages
}
