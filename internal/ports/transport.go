package ports

import "context"

// MessageSender delivers one rendered notification to one recipient.
// A single attempt per call; retry policy belongs to the callers.
type MessageSender interface {
	Send(ctx context.Context, chatID int64, text string) error
}
