package job

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserInStore(t *testing.T, s *MemoryStore) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), NewUser("alice", "alice@example.com"))
	require.NoError(t, err)
	return u
}

func TestMemoryStore_CreateUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := newUserInStore(t, s)
	assert.NotZero(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = s.CreateUser(ctx, NewUser("alice", ""))
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetUser(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUpload(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetVideo(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateVideo(ctx, 99, VideoPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateUpload(ctx, 99, UploadPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateUser(ctx, 99, UserPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateUser(t *testing.T) {
	s := NewMemoryStore()
	u := newUserInStore(t, s)

	updated, err := s.UpdateUser(context.Background(), u.ID, UserPatch{
		FaceImageURL:     Ptr("https://cdn/face.png"),
		ProcessingStatus: Ptr(FaceCompleted),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/face.png", updated.FaceImageURL)
	assert.Equal(t, FaceCompleted, updated.ProcessingStatus)
	assert.Equal(t, "alice@example.com", updated.Email, "nil fields stay unchanged")
}

func TestMemoryStore_UpdateUpload_MergesMetadataAndBumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := newUserInStore(t, s)

	up, err := s.CreateUpload(ctx, NewUpload(u.ID, "[stored]", map[string]string{"size": "10"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.Version)

	updated, err := s.UpdateUpload(ctx, up.ID, UploadPatch{
		ProcessingStatus: Ptr(UploadProcessing),
		Metadata:         map[string]string{"technical_error": "boom"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, UploadProcessing, updated.ProcessingStatus)
	assert.Equal(t, map[string]string{"size": "10", "technical_error": "boom"}, updated.Metadata)
}

func TestMemoryStore_UpdateUpload_StaleVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := newUserInStore(t, s)
	up, err := s.CreateUpload(ctx, NewUpload(u.ID, "[stored]", nil))
	require.NoError(t, err)

	_, err = s.UpdateUpload(ctx, up.ID, UploadPatch{ProcessingStatus: Ptr(UploadProcessing), ExpectedVersion: 1})
	require.NoError(t, err)

	_, err = s.UpdateUpload(ctx, up.ID, UploadPatch{ProcessingStatus: Ptr(UploadFailed), ExpectedVersion: 1})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetUpload(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, UploadProcessing, got.ProcessingStatus)
}

func TestMemoryStore_UpdateVideo_ConcurrentCASHasOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := newUserInStore(t, s)
	v, err := s.CreateVideo(ctx, NewVideo(u.ID))
	require.NoError(t, err)

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateVideo(ctx, v.ID, VideoPatch{RequestID: Ptr("swap"), ExpectedVersion: v.Version})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if err == ErrConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, writers-1, conflicts)
}

func TestMemoryStore_ReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := newUserInStore(t, s)
	up, err := s.CreateUpload(ctx, NewUpload(u.ID, "[stored]", map[string]string{"k": "v"}))
	require.NoError(t, err)

	up.Metadata["k"] = "changed"
	up.ProcessingStatus = UploadFailed

	got, err := s.GetUpload(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.Equal(t, UploadPending, got.ProcessingStatus)
}

func TestMemoryStore_ListByUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	alice := newUserInStore(t, s)
	bob, err := s.CreateUser(ctx, NewUser("bob", ""))
	require.NoError(t, err)

	first, _ := s.CreateVideo(ctx, NewVideo(alice.ID))
	second, _ := s.CreateVideo(ctx, NewVideo(alice.ID))
	_, _ = s.CreateVideo(ctx, NewVideo(bob.ID))
	_, _ = s.CreateUpload(ctx, NewUpload(alice.ID, "[stored]", nil))

	videos, err := s.ListVideosByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, second.ID, videos[0].ID, "newest first")
	assert.Equal(t, first.ID, videos[1].ID)

	uploads, err := s.ListUploadsByUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestMemoryStore_Usage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendUsage(ctx, &UsageRecord{UserID: 1, Endpoint: "video.generate", Status: UsageSuccess}))
	require.NoError(t, s.AppendUsage(ctx, &UsageRecord{UserID: 2, Endpoint: "face.swap", Status: UsageError}))
	require.NoError(t, s.AppendUsage(ctx, &UsageRecord{UserID: 1, Endpoint: "video.status", Status: UsageSuccess}))

	records, err := s.ListUsageByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "video.generate", records[0].Endpoint)
	assert.Equal(t, "video.status", records[1].Endpoint)
	assert.False(t, records[0].CreatedAt.IsZero())
}
