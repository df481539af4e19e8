// Package feedback holds example agents reacting to feedback board events
package feedback

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/feedbax/dispatch"
)

// Created is the payload of a feedback.created event
type Created struct {
	PostID    string `json:"post_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	AuthorID  string `json:"author_id"`
	ProjectID string `json:"project_id"`
}

// NewNotifyTeam constructs an agent which pings the project team about new
// feedback. Notification delivery itself would live behind an email or
// push client - here we just log
func NewNotifyTeam(logger *slog.Logger) dispatch.Agent {
	return dispatch.AgentFunc("notify-team", func(_ context.Context, evt dispatch.Event) error {
		var created Created

		if err := json.Unmarshal(evt.Payload, &created); err != nil {
			return err
		}

		logger.Info(
			"notifying team about new feedback",
			"post_id", created.PostID,
			"title", created.Title,
			"project_id", evt.Meta["project_id"],
		)

		return nil
	})
}

// NewIndexPost constructs an agent which would hand the post to a search /
// similarity index so duplicates surface on the board
func NewIndexPost(logger *slog.Logger) dispatch.Agent {
	return dispatch.AgentFunc("index-post", func(_ context.Context, evt dispatch.Event) error {
		var created Created

		if err := json.Unmarshal(evt.Payload, &created); err != nil {
			return err
		}

		logger.Info("indexing feedback post", "post_id", created.PostID)

		return nil
	})
}
