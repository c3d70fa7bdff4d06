// Package store defines the session storage interface and implementations.
package store

import (
	"context"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
)

// Store defines the interface for session, message, and settings persistence.
//
// Messages are append-only; nothing here mutates or deletes them. Lookups
// must observe writes made earlier in the same process (read-your-writes).
type Store interface {
	// Store (merchant) operations
	GetOrCreateStore(ctx context.Context, shopDomain string) (*domain.Store, error)
	GetStoreByDomain(ctx context.Context, shopDomain string) (*domain.Store, error)
	UpdateStoreProfile(ctx context.Context, storeID, shopName, currency, locale string) error

	// Settings operations
	GetSettings(ctx context.Context, storeID string) (*domain.ChatSettings, error)
	SaveSettings(ctx context.Context, settings *domain.ChatSettings) error

	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSessionByToken(ctx context.Context, token string) (*domain.Session, error)
	UpdateSessionSentiment(ctx context.Context, sessionID string, sentiment domain.Sentiment) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error

	// Message operations
	AppendMessage(ctx context.Context, message *domain.Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	SessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Lifecycle
	Close() error
}
