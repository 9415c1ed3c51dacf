// Package memory is an in-memory storage backend, used by tests and by the
// single-process server.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/caldora/server/storage"
)

type account struct {
	user     storage.User
	password string
}

// Store implements storage.Storage, storage.Authenticator and
// calendar.Directory using in-memory maps.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*account                         // key: userID
	collections map[string]*storage.Collection              // key: userID/calendarID
	objects     map[string]map[string]storage.StoredObject // key: collection key, then name
}

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		users:       make(map[string]*account),
		collections: make(map[string]*storage.Collection),
		objects:     make(map[string]map[string]storage.StoredObject),
	}
}

// AddUser registers a user with a password.
func (s *Store) AddUser(u storage.User, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &account{user: u, password: password}
}

// User operations

func (s *Store) GetUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	u := acc.user
	return &u, nil
}

func (s *Store) Authenticate(_ context.Context, username, password string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.users[username]
	if !ok || acc.password != password {
		return "", storage.ErrPermissionDenied
	}
	return acc.user.ID, nil
}

// DisplayName looks up a user's display name by mail address.
func (s *Store) DisplayName(email string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.users {
		if acc.user.UserAddress != "" && strings.EqualFold(acc.user.UserAddress, email) {
			return acc.user.DisplayName, acc.user.DisplayName != ""
		}
	}
	return "", false
}

// Collection operations

func cloneCollection(c *storage.Collection) *storage.Collection {
	out := *c
	out.SupportedComponents = append([]string(nil), c.SupportedComponents...)
	if c.ACL != nil {
		out.ACL = make(map[string][]storage.Privilege, len(c.ACL))
		for principal, privs := range c.ACL {
			out.ACL[principal] = append([]storage.Privilege(nil), privs...)
		}
	}
	return &out
}

func (s *Store) GetCollection(_ context.Context, userID, calendarID string) (*storage.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[storage.CollectionKey(userID, calendarID)]
	if !ok {
		return nil, fmt.Errorf("collection %s/%s: %w", userID, calendarID, storage.ErrNotFound)
	}
	return cloneCollection(c), nil
}

func (s *Store) ListCollections(_ context.Context, userID string) ([]storage.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Collection
	for _, c := range s.collections {
		if c.UserID == userID {
			out = append(out, *cloneCollection(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateCollection(_ context.Context, c *storage.Collection) error {
	if c.UserID == "" || c.ID == "" {
		return fmt.Errorf("collection needs owner and id: %w", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Key()
	if _, exists := s.collections[key]; exists {
		return fmt.Errorf("collection %s: %w", key, storage.ErrConflict)
	}
	stored := cloneCollection(c)
	if stored.Created.IsZero() {
		stored.Created = time.Now()
	}
	s.collections[key] = stored
	s.objects[key] = make(map[string]storage.StoredObject)
	return nil
}

func (s *Store) DeleteCollection(_ context.Context, userID, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storage.CollectionKey(userID, calendarID)
	if _, exists := s.collections[key]; !exists {
		return fmt.Errorf("collection %s: %w", key, storage.ErrNotFound)
	}
	delete(s.collections, key)
	delete(s.objects, key)
	return nil
}

// Calendar object operations

func (s *Store) members(collectionID string) (map[string]storage.StoredObject, error) {
	objs, ok := s.objects[collectionID]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collectionID, storage.ErrNotFound)
	}
	return objs, nil
}

func (s *Store) GetObject(_ context.Context, collectionID, name string) (*storage.StoredObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs, err := s.members(collectionID)
	if err != nil {
		return nil, err
	}
	obj, ok := objs[name]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: %w", collectionID, name, storage.ErrNotFound)
	}
	out := obj.Clone()
	return &out, nil
}

func (s *Store) GetObjectByUID(_ context.Context, collectionID, uid string) (*storage.StoredObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs, err := s.members(collectionID)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		if obj.Object.UID == uid {
			out := obj.Clone()
			return &out, nil
		}
	}
	return nil, fmt.Errorf("object with UID %s in %s: %w", uid, collectionID, storage.ErrNotFound)
}

func (s *Store) ListObjects(_ context.Context, collectionID string) ([]storage.StoredObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs, err := s.members(collectionID)
	if err != nil {
		return nil, err
	}
	out := make([]storage.StoredObject, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) PutObject(_ context.Context, collectionID string, obj storage.StoredObject) error {
	if obj.Name == "" {
		return fmt.Errorf("object needs a name: %w", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	objs, err := s.members(collectionID)
	if err != nil {
		return err
	}
	objs[obj.Name] = obj.Clone()
	return nil
}

func (s *Store) DeleteObject(_ context.Context, collectionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs, err := s.members(collectionID)
	if err != nil {
		return err
	}
	if _, ok := objs[name]; !ok {
		return fmt.Errorf("object %s/%s: %w", collectionID, name, storage.ErrNotFound)
	}
	delete(objs, name)
	return nil
}

var (
	_ storage.Storage       = (*Store)(nil)
	_ storage.Authenticator = (*Store)(nil)
)
