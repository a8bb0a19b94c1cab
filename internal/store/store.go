// Package store defines the persistence contract shared by all backends.
package store

import (
	"context"
	"errors"

	"sinas/internal/models"
)

var (
	// ErrNotFound signals that the requested user, conversation or message
	// does not exist. It is a result, not a storage failure.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists signals a create on a key that is already taken.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidID signals an id the backend cannot represent.
	ErrInvalidID = errors.New("invalid id")
)

// Store is the persistence abstraction over users, conversations and
// messages. Both backends satisfy the same observable contract: identical
// success and failure semantics and identically shaped aggregates, so
// callers stay backend-agnostic.
//
// All methods are safe for concurrent use. Returned conversations are
// snapshots; later writes to the backing store do not change them.
type Store interface {
	// ResolveConnectedUser looks up stored credentials by username and
	// returns the user populated with the given live endpoint. Unknown
	// usernames yield ErrNotFound; users must be registered explicitly
	// before they can connect.
	ResolveConnectedUser(ctx context.Context, username, ip string, port int) (models.User, error)

	// ResolveUserInfo is ResolveConnectedUser without endpoint information.
	ResolveUserInfo(ctx context.Context, username string) (models.User, error)

	// ListConversations returns every conversation the user participates
	// in, each fully hydrated with participants and message history.
	ListConversations(ctx context.Context, username string) ([]*models.Conversation, error)

	// LoadConversation returns the conversation with the given id, or
	// ErrNotFound.
	LoadConversation(ctx context.Context, id string) (*models.Conversation, error)

	// CreateUser stores a new user; ErrAlreadyExists if the username is taken.
	CreateUser(ctx context.Context, user models.User) error

	// UpdateUser rewrites the stored password; ErrNotFound for unknown users.
	UpdateUser(ctx context.Context, user models.User) error

	// CreateConversation persists conversation metadata and membership
	// only; messages are persisted separately via CreateMessage. An empty
	// conversation id makes the backend allocate one and write it back to
	// the aggregate.
	CreateConversation(ctx context.Context, conv *models.Conversation) error

	// UpdateConversation rewrites metadata and membership of an existing
	// conversation; ErrNotFound if it does not exist.
	UpdateConversation(ctx context.Context, conv *models.Conversation) error

	// CreateMessage appends a message to an existing conversation and
	// assigns msg.ID.
	CreateMessage(ctx context.Context, conversationID string, msg *models.Message) error

	// UpdateMessage rewrites an existing message identified by msg.ID
	// within the given conversation; ErrNotFound if either is missing.
	UpdateMessage(ctx context.Context, conversationID string, msg models.Message) error

	// FilesRoot is the directory where file-transfer payloads are kept.
	FilesRoot() string

	Close() error
}
