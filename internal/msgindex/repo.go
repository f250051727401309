package msgindex

import "context"

// Repository persists the message index. Insert is idempotent on control ID.
type Repository interface {
	Insert(ctx context.Context, m *IndexedMessage) error
	Search(ctx context.Context, f Filter, limit int) ([]*IndexedMessage, error)
}
