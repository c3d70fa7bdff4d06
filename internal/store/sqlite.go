package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			store_id TEXT PRIMARY KEY,
			shop_domain TEXT NOT NULL UNIQUE,
			shop_name TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'USD',
			locale TEXT NOT NULL DEFAULT 'en',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS chat_settings (
			store_id TEXT PRIMARY KEY,
			welcome_message TEXT NOT NULL,
			primary_color TEXT NOT NULL,
			accent_color TEXT NOT NULL,
			widget_position TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (store_id) REFERENCES stores(store_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			session_token TEXT NOT NULL UNIQUE,
			customer_id TEXT,
			customer_email TEXT,
			customer_name TEXT,
			channel TEXT NOT NULL DEFAULT 'widget',
			language TEXT NOT NULL DEFAULT 'en',
			status TEXT NOT NULL DEFAULT 'active',
			sentiment TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (store_id) REFERENCES stores(store_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON chat_sessions(session_token)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			message TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			is_ai INTEGER NOT NULL DEFAULT 0,
			intent TEXT,
			confidence REAL,
			sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, sent_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateStore returns the store for a shop domain, creating it on first
// contact.
func (s *SQLiteStore) GetOrCreateStore(ctx context.Context, shopDomain string) (*domain.Store, error) {
	st, err := s.GetStoreByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st, nil
	}

	st = &domain.Store{
		ID:         uuid.New().String(),
		ShopDomain: shopDomain,
		Currency:   "USD",
		Locale:     "en",
		CreatedAt:  time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stores (store_id, shop_domain, shop_name, currency, locale, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.ShopDomain, st.ShopName, st.Currency, st.Locale, st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// GetStoreByDomain retrieves a store by shop domain.
func (s *SQLiteStore) GetStoreByDomain(ctx context.Context, shopDomain string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx,
		`SELECT store_id, shop_domain, shop_name, currency, locale, created_at FROM stores WHERE shop_domain = ?`,
		shopDomain).Scan(&st.ID, &st.ShopDomain, &st.ShopName, &st.Currency, &st.Locale, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStoreProfile updates the display name, currency, and locale of a store.
func (s *SQLiteStore) UpdateStoreProfile(ctx context.Context, storeID, shopName, currency, locale string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stores SET shop_name = ?, currency = ?, locale = ? WHERE store_id = ?`,
		shopName, currency, locale, storeID)
	return err
}

// GetSettings retrieves the chat settings for a store, falling back to the
// defaults when the merchant has not saved any.
func (s *SQLiteStore) GetSettings(ctx context.Context, storeID string) (*domain.ChatSettings, error) {
	var cs domain.ChatSettings
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT store_id, welcome_message, primary_color, accent_color, widget_position, enabled FROM chat_settings WHERE store_id = ?`,
		storeID).Scan(&cs.StoreID, &cs.WelcomeMessage, &cs.PrimaryColor, &cs.AccentColor, &cs.WidgetPosition, &enabled)
	if err == sql.ErrNoRows {
		return domain.DefaultChatSettings(storeID), nil
	}
	if err != nil {
		return nil, err
	}
	cs.Enabled = enabled != 0
	return &cs, nil
}

// SaveSettings creates or replaces the chat settings for a store.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *domain.ChatSettings) error {
	enabled := 0
	if settings.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_settings (store_id, welcome_message, primary_color, accent_color, widget_position, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		settings.StoreID, settings.WelcomeMessage, settings.PrimaryColor, settings.AccentColor, settings.WidgetPosition, enabled)
	return err
}

// CreateSession creates a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, store_id, session_token, customer_id, customer_email, customer_name, channel, language, status, sentiment, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.StoreID, session.Token,
		nullable(session.CustomerID), nullable(session.CustomerEmail), nullable(session.CustomerName),
		session.Channel, session.Language, session.Status, nullable(string(session.Sentiment)),
		session.StartedAt, session.UpdatedAt)
	return err
}

// GetSessionByToken retrieves a session with its owning store by session
// token. Returns nil when the token is unknown.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	var sess domain.Session
	var st domain.Store
	var customerID, customerEmail, customerName, sentiment sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT s.session_id, s.store_id, s.session_token, s.customer_id, s.customer_email, s.customer_name,
		        s.channel, s.language, s.status, s.sentiment, s.started_at, s.updated_at,
		        t.store_id, t.shop_domain, t.shop_name, t.currency, t.locale, t.created_at
		 FROM chat_sessions s JOIN stores t ON t.store_id = s.store_id
		 WHERE s.session_token = ?`,
		token).Scan(
		&sess.ID, &sess.StoreID, &sess.Token, &customerID, &customerEmail, &customerName,
		&sess.Channel, &sess.Language, &sess.Status, &sentiment, &sess.StartedAt, &sess.UpdatedAt,
		&st.ID, &st.ShopDomain, &st.ShopName, &st.Currency, &st.Locale, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.CustomerID = customerID.String
	sess.CustomerEmail = customerEmail.String
	sess.CustomerName = customerName.String
	sess.Sentiment = domain.Sentiment(sentiment.String)
	sess.Store = &st
	return &sess, nil
}

// UpdateSessionSentiment sets the rolling sentiment and bumps updated_at.
func (s *SQLiteStore) UpdateSessionSentiment(ctx context.Context, sessionID string, sentiment domain.Sentiment) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET sentiment = ?, updated_at = ? WHERE session_id = ?`,
		string(sentiment), time.Now(), sessionID)
	return err
}

// UpdateSessionStatus sets the lifecycle status and bumps updated_at.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(status), time.Now(), sessionID)
	return err
}

// AppendMessage appends a message to a session's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	isAI := 0
	if message.IsAI {
		isAI = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, sender, message, message_type, is_ai, intent, confidence, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, string(message.Sender), message.Message, message.MessageType,
		isAI, nullable(string(message.Intent)), message.Confidence, message.SentAt)
	return err
}

// RecentMessages returns the last limit messages of a session in ascending
// sent order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, sender, message, message_type, is_ai, intent, confidence, sent_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY sent_at DESC, message_id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Rows came newest-first; restore ascending order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SessionMessages returns the full transcript of a session in ascending sent
// order.
func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, sender, message, message_type, is_ai, intent, confidence, sent_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY sent_at ASC, message_id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var isAI int
		var intent sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Message, &msg.MessageType, &isAI, &intent, &confidence, &msg.SentAt); err != nil {
			return nil, err
		}
		msg.IsAI = isAI != 0
		msg.Intent = domain.Intent(intent.String)
		msg.Confidence = confidence.Float64
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
