package profiles_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/primehr-session/profiles"
	fakeprofilerepo "github.com/jrsteele09/primehr-session/profiles/repofake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// unreachableRedis points at a closed port so every command fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCachedRepo_FallsBackWhenCacheDown(t *testing.T) {
	ctx := context.Background()
	backing := fakeprofilerepo.NewFakeProfileRepo()
	require.NoError(t, backing.Upsert(ctx, profiles.New("user-1", "jane@example.com", profiles.Fields{FirstName: "Jane"}, time.Now())))

	repo := profiles.NewCachedRepo(backing, unreachableRedis(t), time.Minute)

	p, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "Jane", p.FirstName)
	require.Equal(t, 1, backing.Gets())

	require.NoError(t, repo.Upsert(ctx, p))

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, profiles.ErrNotFound)
}

func TestFieldsMetadataRoundTrip(t *testing.T) {
	f := profiles.Fields{FirstName: "Jane", UserType: profiles.UserTypeRecruiter, CompanyName: "Acme"}
	md := f.Metadata()
	require.Len(t, md, 3)
	require.Equal(t, f, profiles.FieldsFromMetadata(md))
}

func TestNew_DefaultsUserType(t *testing.T) {
	p := profiles.New("user-1", "jane@example.com", profiles.Fields{}, time.Now())
	require.Equal(t, profiles.UserTypeCandidate, p.UserType)
}
