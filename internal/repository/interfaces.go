package repository

import (
	"context"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
)

// UserRepository defines user storage operations
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// EnsureUser creates the user when missing and reports whether it was created
	EnsureUser(ctx context.Context, userID string) (*models.User, bool, error)
	SetSubscriptionStatus(ctx context.Context, userID string, status models.SubscriptionStatus) error
}

// PreferenceRepository defines per-user key/value preference storage
type PreferenceRepository interface {
	UpsertPreference(ctx context.Context, userID, key, value string) error
	Preferences(ctx context.Context, userID string) (map[string]string, error)
}

// MessageRepository defines the append-only message log
type MessageRepository interface {
	Append(ctx context.Context, userID string, message models.Message) (string, error)
	// RecentMessages returns the last limit messages, oldest first
	RecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error)
	// UnsummarizedMessages returns up to limit messages after the latest summary, oldest first.
	// A limit <= 0 returns the whole tail.
	UnsummarizedMessages(ctx context.Context, userID string, limit int) ([]models.Message, error)
	CountUnsummarized(ctx context.Context, userID string) (int, error)
	MessageCount(ctx context.Context, userID string) (int, error)
}

// SummaryRepository defines summary storage; summaries are never overwritten
type SummaryRepository interface {
	LatestSummary(ctx context.Context, userID string) (*models.Summary, error)
	SaveSummary(ctx context.Context, summary models.Summary) (string, error)
	// Summaries returns the whole lineage, newest first
	Summaries(ctx context.Context, userID string) ([]models.Summary, error)
}

// CredentialRepository defines integration credential storage
type CredentialRepository interface {
	GetCredential(ctx context.Context, userID string, platform models.Platform) (*models.IntegrationCredential, error)
	UpsertCredential(ctx context.Context, cred models.IntegrationCredential) error
	SetCredentialStatus(ctx context.Context, userID string, platform models.Platform, status models.CredentialStatus) error
	// ExpireCredentials marks active credentials past their expiry and returns how many changed
	ExpireCredentials(ctx context.Context, now time.Time) (int, error)
}

// SubscriptionRepository defines payment event storage
type SubscriptionRepository interface {
	RecordSubscriptionEvent(ctx context.Context, event models.SubscriptionEvent) (models.RecordResult, error)
	SubscriptionEvents(ctx context.Context, userID string) ([]models.SubscriptionEvent, error)
}

// ConversationStore is the durable state of the gateway
type ConversationStore interface {
	UserRepository
	PreferenceRepository
	MessageRepository
	SummaryRepository
	CredentialRepository
	SubscriptionRepository
}
