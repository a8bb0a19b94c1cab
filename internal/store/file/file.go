// Package file implements the store contract on a flat-file layout: one
// delimited text file per user and per conversation under a fixed
// directory tree.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sinas/internal/models"
	"sinas/internal/store"
)

const (
	usersDir         = "users"
	conversationsDir = "conversations"
	filesDir         = "files"
)

// ErrBadRoot is returned by New when the root path exists but is not a
// directory. Nothing can be stored under such a root, so construction
// must fail outright.
var ErrBadRoot = errors.New("storage root is not a directory")

type Store struct {
	root string

	// one lock per entity file, covering read-modify-write cycles
	locks sync.Map
}

var _ store.Store = (*Store)(nil)

// New bootstraps the directory layout under root, creating the root and
// its users/, conversations/ and files/ subdirectories if they do not
// exist yet.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err == nil && !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBadRoot, root)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat storage root: %w", err)
	}

	for _, dir := range []string{usersDir, conversationsDir, filesDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &Store{root: root}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) FilesRoot() string {
	return filepath.Join(s.root, filesDir)
}

func (s *Store) userPath(username string) string {
	return filepath.Join(s.root, usersDir, username+".txt")
}

func (s *Store) conversationPath(id string) string {
	return filepath.Join(s.root, conversationsDir, id+".txt")
}

// lock returns the mutex guarding one entity file.
func (s *Store) lock(path string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// validKey rejects ids and usernames that would collide with the line
// format or escape the storage tree.
func validKey(key string) bool {
	if key == "" || strings.ContainsAny(key, ":\n/\\") {
		return false
	}
	return key == filepath.Base(key)
}

func (s *Store) ResolveConnectedUser(ctx context.Context, username, ip string, port int) (models.User, error) {
	info, err := s.ResolveUserInfo(ctx, username)
	if err != nil {
		return models.User{}, err
	}
	return models.NewConnectedUser(info.Username, info.Password, ip, port), nil
}

func (s *Store) ResolveUserInfo(ctx context.Context, username string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	if !validKey(username) {
		return models.User{}, store.ErrNotFound
	}

	path := s.userPath(username)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	line, err := readLine(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.User{}, store.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to read user file: %w", err)
	}

	name, password, err := decodeUser(line)
	if err != nil {
		return models.User{}, fmt.Errorf("corrupt user file %s: %w", path, err)
	}
	return models.NewUserInfo(name, password), nil
}

func (s *Store) CreateUser(ctx context.Context, user models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(user.Username) {
		return store.ErrInvalidID
	}

	path := s.userPath(user.Username)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	return createFile(path, encodeUser(user)+"\n")
}

func (s *Store) UpdateUser(ctx context.Context, user models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(user.Username) {
		return store.ErrNotFound
	}

	path := s.userPath(user.Username)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to stat user file: %w", err)
	}
	return writeFileAtomic(path, encodeUser(user)+"\n")
}

func (s *Store) ListConversations(ctx context.Context, username string) ([]*models.Conversation, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, conversationsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	// A directory scan per listing is linear in the number of stored
	// conversations; record counts are expected to stay small.
	var convs []*models.Conversation
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := strings.CutSuffix(entry.Name(), ".txt")
		if !ok || entry.IsDir() {
			continue
		}
		conv, err := s.LoadConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if conv.Contains(username) {
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

func (s *Store) LoadConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(id) {
		return nil, store.ErrNotFound
	}

	path := s.conversationPath(id)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	return readConversation(path)
}

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := conv.ID()
	if id == "" {
		id = uuid.NewString()
	}
	if !validKey(id) {
		return store.ErrInvalidID
	}
	for _, u := range conv.Users() {
		if !validKey(u) {
			return fmt.Errorf("%w: username %q", store.ErrInvalidID, u)
		}
	}

	path := s.conversationPath(id)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	if err := createFile(path, encodeHeader(id, conv.Users())+"\n"); err != nil {
		return err
	}
	// The allocated id is written back only once the file exists.
	conv.AssignID(id)
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(conv.ID()) {
		return store.ErrNotFound
	}
	for _, u := range conv.Users() {
		if !validKey(u) {
			return fmt.Errorf("%w: username %q", store.ErrInvalidID, u)
		}
	}

	path := s.conversationPath(conv.ID())
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	lines, err := readLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read conversation file: %w", err)
	}

	// Rewrite the header; stored message lines are untouched.
	lines[0] = encodeHeader(conv.ID(), conv.Users())
	return writeFileAtomic(path, strings.Join(lines, "\n")+"\n")
}

func (s *Store) CreateMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(conversationID) {
		return store.ErrNotFound
	}
	if !validKey(msg.Sender) {
		return fmt.Errorf("%w: sender %q", store.ErrInvalidID, msg.Sender)
	}

	path := s.conversationPath(conversationID)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	lines, err := readLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read conversation file: %w", err)
	}

	lines = append(lines, encodeMessage(*msg))
	if err := writeFileAtomic(path, strings.Join(lines, "\n")+"\n"); err != nil {
		return err
	}
	// Message ids in this layout are ordinals within the file.
	msg.ID = int64(len(lines) - 1)
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, conversationID string, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(conversationID) {
		return store.ErrNotFound
	}
	if !validKey(msg.Sender) {
		return fmt.Errorf("%w: sender %q", store.ErrInvalidID, msg.Sender)
	}

	path := s.conversationPath(conversationID)
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	lines, err := readLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read conversation file: %w", err)
	}

	if msg.ID < 1 || msg.ID >= int64(len(lines)) {
		return store.ErrNotFound
	}
	lines[msg.ID] = encodeMessage(msg)
	return writeFileAtomic(path, strings.Join(lines, "\n")+"\n")
}

func readConversation(path string) (*models.Conversation, error) {
	lines, err := readLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	id, users, err := decodeHeader(lines[0])
	if err != nil {
		return nil, fmt.Errorf("corrupt conversation file %s: %w", path, err)
	}

	conv := models.NewConversation(id, users...)
	for i, line := range lines[1:] {
		msg, err := decodeMessage(line)
		if err != nil {
			return nil, fmt.Errorf("corrupt conversation file %s: %w", path, err)
		}
		msg.ID = int64(i + 1)
		conv.AddMessages(msg)
	}
	return conv, nil
}
