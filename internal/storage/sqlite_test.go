package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, opts Options) *SQLiteStorage {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.UnixMilli(1_700_000_000_000)

func sampleContact(id int64) *models.Contact {
	c := models.NewContact(id, "alice", "example.com", base)
	c.Devices = []models.Device{{Name: "laptop", Platform: "linux"}}
	c.Context = json.RawMessage(`{"k":"v"}`)
	return c
}

func sampleGroup(id int64, lastActive time.Time, state models.GroupState) *models.Group {
	g := &models.Group{
		Owner:          sampleContact(1),
		Name:           "team",
		Tag:            "t",
		Domain:         "example.com",
		CreationTime:   base,
		LastActiveTime: lastActive,
		MemberIDs:      []int64{1, 2, 3},
		State:          state,
	}
	g.ID = id
	g.Timestamp = base
	g.Touch(base, models.DefaultLifespan)
	return g
}

var timeCmp = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func TestContact_WriteThenRead(t *testing.T) {
	s := openMemory(t, Options{Domain: "example.com"})
	ctx := context.Background()

	in := sampleContact(42)
	require.NoError(t, s.WriteContact(ctx, in))

	got, err := s.ReadContact(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)

	if diff := cmp.Diff(in, got, timeCmp, cmpopts.IgnoreFields(models.Contact{}, "Appendix")); diff != "" {
		t.Fatalf("contact mismatch (-want +got):\n%s", diff)
	}
}

func TestContact_Absent(t *testing.T) {
	s := openMemory(t, Options{Domain: "example.com"})

	got, err := s.ReadContact(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContact_UpsertOverwrites(t *testing.T) {
	s := openMemory(t, Options{Domain: "example.com"})
	ctx := context.Background()

	c := sampleContact(7)
	require.NoError(t, s.WriteContact(ctx, c))
	c.Name = "renamed"
	require.NoError(t, s.WriteContact(ctx, c))

	got, err := s.ReadContact(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestDomainScoping(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "dir.db")
	ctx := context.Background()

	a, err := Open(ctx, dsn, Options{Domain: "a"})
	require.NoError(t, err)
	require.NoError(t, a.WriteContact(ctx, sampleContact(1)))
	require.NoError(t, a.Close())

	b, err := Open(ctx, dsn, Options{Domain: "b"})
	require.NoError(t, err)
	defer b.Close()

	got, err := b.ReadContact(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGroup_WriteThenRead(t *testing.T) {
	s := openMemory(t, Options{Domain: "example.com"})
	ctx := context.Background()

	in := sampleGroup(100, base.Add(time.Hour), models.GroupStateDisabled)
	require.NoError(t, s.WriteGroup(ctx, in))

	got, err := s.ReadGroup(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, models.GroupStateDisabled, got.State)
	assert.Equal(t, []int64{1, 2, 3}, got.MemberIDs)
	assert.Equal(t, int64(1), got.Owner.ID)
	assert.True(t, in.LastActiveTime.Equal(got.LastActiveTime))
	assert.True(t, in.Expiry.Equal(got.Expiry))
}

func TestReadGroups_RangeAndStates(t *testing.T) {
	s := openMemory(t, Options{Domain: "example.com"})
	ctx := context.Background()

	require.NoError(t, s.WriteGroups(ctx, []*models.Group{
		sampleGroup(1, base.Add(1*time.Hour), models.GroupStateNormal),
		sampleGroup(2, base.Add(2*time.Hour), models.GroupStateDismissed),
		sampleGroup(3, base.Add(3*time.Hour), models.GroupStateNormal),
		sampleGroup(4, base.Add(10*time.Hour), models.GroupStateNormal),
	}))

	ids := func(gs []*models.Group) []int64 {
		var out []int64
		for _, g := range gs {
			out = append(out, g.ID)
		}
		return out
	}

	all, err := s.ReadGroups(ctx, time.Time{}, time.Time{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 2, 1}, ids(all))

	ranged, err := s.ReadGroups(ctx, base.Add(time.Hour), base.Add(5*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(ranged))

	normal, err := s.ReadGroups(ctx, base.Add(time.Hour), base.Add(5*time.Hour),
		[]models.GroupState{models.GroupStateNormal})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids(normal))

	owner, err := s.ReadContact(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, owner, "WriteGroups stores owners too")
}

func TestSealing_RoundTripAndWrongSecret(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "sealed.db")
	ctx := context.Background()

	s, err := Open(ctx, dsn, Options{Domain: "d", Secret: "hunter2"})
	require.NoError(t, err)
	require.NoError(t, s.WriteContact(ctx, sampleContact(5)))

	var payload []byte
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT payload FROM contact_records WHERE id = 5`).Scan(&payload))
	assert.NotContains(t, string(payload), "alice")
	require.NoError(t, s.Close())

	again, err := Open(ctx, dsn, Options{Domain: "d", Secret: "hunter2"})
	require.NoError(t, err)
	got, err := again.ReadContact(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	require.NoError(t, again.Close())

	_, err = Open(ctx, dsn, Options{Domain: "d", Secret: "wrong"})
	require.ErrorIs(t, err, ErrWrongSecret)
}

func TestMetadataRepository(t *testing.T) {
	s := openMemory(t, Options{})
	ctx := context.Background()

	v, err := s.meta.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.meta.Set(ctx, "k", []byte("old")))
	require.NoError(t, s.meta.Set(ctx, "k", []byte("new")))

	v, err = s.meta.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}
