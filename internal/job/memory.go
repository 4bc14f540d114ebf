package job

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses maps guarded by a RWMutex and hands out clones only.
// Suitable for development and testing; swap for PostgresStore in production.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]*User
	uploads map[int64]*Upload
	videos  map[int64]*Video
	usage   []*UsageRecord
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]*User),
		uploads: make(map[int64]*Upload),
		videos:  make(map[int64]*Video),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateUser stores a copy of u under a fresh ID.
func (s *MemoryStore) CreateUser(_ context.Context, u *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return nil, ErrUsernameTaken
		}
	}
	c := *u
	c.ID = s.id()
	s.users[c.ID] = &c
	out := c
	return &out, nil
}

// GetUser retrieves a user by its ID.
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// UpdateUser applies a partial update to a user.
func (s *MemoryStore) UpdateUser(_ context.Context, id int64, p UserPatch) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.apply(u)
	c := *u
	return &c, nil
}

// CreateUpload stores a copy of u under a fresh ID with version 1.
func (s *MemoryStore) CreateUpload(_ context.Context, u *Upload) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := u.Clone()
	c.ID = s.id()
	c.Version = 1
	s.uploads[c.ID] = c
	return c.Clone(), nil
}

// GetUpload retrieves an upload by its ID.
func (s *MemoryStore) GetUpload(_ context.Context, id int64) (*Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

// UpdateUpload applies a partial, optionally version-checked update.
func (s *MemoryStore) UpdateUpload(_ context.Context, id int64, p UploadPatch) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != u.Version {
		return nil, ErrConflict
	}
	p.apply(u)
	return u.Clone(), nil
}

// ListUploadsByUser returns the user's uploads, newest first.
func (s *MemoryStore) ListUploadsByUser(_ context.Context, userID int64) ([]*Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Upload, 0)
	for _, u := range s.uploads {
		if u.UserID == userID {
			result = append(result, u.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *Upload) int { return newestFirst(a.ID, b.ID) })
	return result, nil
}

// CreateVideo stores a copy of v under a fresh ID with version 1.
func (s *MemoryStore) CreateVideo(_ context.Context, v *Video) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := v.Clone()
	c.ID = s.id()
	c.Version = 1
	s.videos[c.ID] = c
	return c.Clone(), nil
}

// GetVideo retrieves a video by its ID.
func (s *MemoryStore) GetVideo(_ context.Context, id int64) (*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

// UpdateVideo applies a partial, optionally version-checked update.
func (s *MemoryStore) UpdateVideo(_ context.Context, id int64, p VideoPatch) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != v.Version {
		return nil, ErrConflict
	}
	p.apply(v)
	return v.Clone(), nil
}

// ListVideosByUser returns the user's videos, newest first.
func (s *MemoryStore) ListVideosByUser(_ context.Context, userID int64) ([]*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Video, 0)
	for _, v := range s.videos {
		if v.UserID == userID {
			result = append(result, v.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *Video) int { return newestFirst(a.ID, b.ID) })
	return result, nil
}

// AppendUsage records one external call.
func (s *MemoryStore) AppendUsage(_ context.Context, r *UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	c.ID = s.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.usage = append(s.usage, &c)
	r.ID = c.ID
	return nil
}

// ListUsageByUser returns the user's usage records in insertion order.
func (s *MemoryStore) ListUsageByUser(_ context.Context, userID int64) ([]*UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*UsageRecord, 0)
	for _, r := range s.usage {
		if r.UserID == userID {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}

// IDs are monotonic, so a descending ID order is a newest-first order.
func newestFirst(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
