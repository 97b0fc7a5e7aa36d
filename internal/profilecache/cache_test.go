package profilecache

import (
	"context"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	profiles map[string]domain.Profile
	gets     int
	lists    int
}

func (c *countingRepo) GetProfile(_ context.Context, did string) (*domain.Profile, error) {
	c.gets++
	p, ok := c.profiles[did]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (c *countingRepo) ListProfiles(_ context.Context) ([]domain.Profile, error) {
	c.lists++
	out := make([]domain.Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (c *countingRepo) UpsertProfileList(_ context.Context, did string, kind domain.ListKind, list domain.ProfileList, modifiedAt time.Time) error {
	p := c.profiles[did]
	p.DID = did
	if kind == domain.Blacklist {
		p.Blacklist = list
	} else {
		p.Whitelist = list
	}
	p.ModifiedAt = modifiedAt
	c.profiles[did] = p
	return nil
}

func TestCachedProfiles(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{profiles: map[string]domain.Profile{
		"did:plc:a": {DID: "did:plc:a", Whitelist: domain.ProfileList{Text: "go"}},
	}}
	repo := New(inner, 16, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := repo.GetProfile(ctx, "did:plc:a")
		require.NoError(t, err)
		assert.Equal(t, "go", p.Whitelist.Text)
	}
	assert.Equal(t, 1, inner.gets)

	for i := 0; i < 3; i++ {
		all, err := repo.ListProfiles(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	}
	assert.Equal(t, 1, inner.lists)

	_, err := repo.GetProfile(ctx, "did:plc:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetProfile(ctx, "did:plc:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 3, inner.gets)
}

func TestUpsertInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{profiles: map[string]domain.Profile{
		"did:plc:a": {DID: "did:plc:a", Whitelist: domain.ProfileList{Text: "go"}},
	}}
	repo := New(inner, 16, time.Minute)

	_, err := repo.GetProfile(ctx, "did:plc:a")
	require.NoError(t, err)
	_, err = repo.ListProfiles(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.UpsertProfileList(ctx, "did:plc:b", domain.Whitelist, domain.ProfileList{Text: "rust"}, time.Now()))
	require.NoError(t, repo.UpsertProfileList(ctx, "did:plc:a", domain.Whitelist, domain.ProfileList{Text: "zig"}, time.Now()))

	p, err := repo.GetProfile(ctx, "did:plc:a")
	require.NoError(t, err)
	assert.Equal(t, "zig", p.Whitelist.Text)

	all, err := repo.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, inner.lists)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{profiles: map[string]domain.Profile{"did:plc:a": {DID: "did:plc:a"}}}
	repo := New(inner, 16, 20*time.Millisecond)

	_, err := repo.ListProfiles(ctx)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = repo.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lists)
}
