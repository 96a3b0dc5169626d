package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"perepiska/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BboltStore {
	t.Helper()
	store, err := NewBboltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("Upsert", func(t *testing.T) {
		fields, err := ProfileFields(models.User{ID: "u1", DisplayName: "Alice", Presence: models.PresenceOnline})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, CollectionUsers, "u1", fields, Merge))

		edge, err := EdgeValue(models.FriendEdge{PeerID: "u2", DisplayName: "Bob", Since: 10})
		require.NoError(t, err)
		require.NoError(t, store.Update(ctx, DocRef{CollectionUsers, "u1"}, AppendToSet(FieldFriends, edge)))

		// A merge upsert of the profile keeps the friend set.
		fields, err = ProfileFields(models.User{ID: "u1", DisplayName: "Alice B.", Presence: models.PresenceAway})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, CollectionUsers, "u1", fields, Merge))

		doc, err := store.Get(ctx, DocRef{CollectionUsers, "u1"})
		require.NoError(t, err)
		user, err := UserFromDoc(doc)
		require.NoError(t, err)
		require.Equal(t, "Alice B.", user.DisplayName)
		require.Equal(t, models.PresenceAway, user.Presence)
		require.Len(t, user.Friends, 1)
		require.Equal(t, "u2", user.Friends[0].PeerID)
		require.EqualValues(t, 10, user.Friends[0].Since)

		// Overwrite drops everything not given.
		require.NoError(t, store.Upsert(ctx, CollectionUsers, "u1", fields, Overwrite))
		doc, err = store.Get(ctx, DocRef{CollectionUsers, "u1"})
		require.NoError(t, err)
		user, err = UserFromDoc(doc)
		require.NoError(t, err)
		require.Empty(t, user.Friends)
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := store.Get(ctx, DocRef{CollectionUsers, "nobody"})
		require.ErrorIs(t, err, models.ErrNotFound)

		_, err = store.Get(ctx, DocRef{"no_such_collection", "x"})
		require.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Update missing", func(t *testing.T) {
		err := store.Update(ctx, DocRef{CollectionUsers, "nobody"}, Set(FieldPresence, "online"))
		require.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Sets", func(t *testing.T) {
		id, err := store.Create(ctx, CollectionGroups, Fields{FieldMembers: []string{"a"}})
		require.NoError(t, err)
		ref := DocRef{CollectionGroups, id}

		require.NoError(t, store.Update(ctx, ref, AppendToSet(FieldMembers, "b")))
		require.NoError(t, store.Update(ctx, ref, AppendToSet(FieldMembers, "b")))
		require.NoError(t, store.Update(ctx, ref, AppendToSet(FieldMembers, "c")))
		require.NoError(t, store.Update(ctx, ref, RemoveFromSet(FieldMembers, "a")))
		require.NoError(t, store.Update(ctx, ref, RemoveFromSet(FieldMembers, "zzz")))

		doc, err := store.Get(ctx, ref)
		require.NoError(t, err)
		group, err := GroupFromDoc(doc)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "c"}, group.Members)

		// Removing an embedded edge needs the value it was added with.
		edge, err := EdgeValue(models.FriendEdge{PeerID: "p", DisplayName: "P", Since: 5})
		require.NoError(t, err)
		require.NoError(t, store.Update(ctx, ref, AppendToSet("edges", edge)))
		require.NoError(t, store.Update(ctx, ref, RemoveFromSet("edges", edge)))
		doc, err = store.Get(ctx, ref)
		require.NoError(t, err)
		require.Empty(t, doc.Fields["edges"])
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := store.Create(ctx, CollectionFriendRequests, Fields{FieldTo: "u1"})
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, DocRef{CollectionFriendRequests, id}))
		require.NoError(t, store.Delete(ctx, DocRef{CollectionFriendRequests, id}))

		_, err = store.Get(ctx, DocRef{CollectionFriendRequests, id})
		require.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Query filters", func(t *testing.T) {
		for _, r := range []models.FriendRequest{
			{From: "a", To: "x", Status: models.RequestStatusPending},
			{From: "b", To: "x", Status: models.RequestStatusPending},
			{From: "c", To: "y", Status: models.RequestStatusPending},
			{From: "d", To: "x", Status: "other"},
		} {
			fields, err := RequestFields(r)
			require.NoError(t, err)
			_, err = store.Create(ctx, "requests_query", fields)
			require.NoError(t, err)
		}

		snap, err := store.Query(ctx, Query{
			Collection: "requests_query",
			Filters:    []Filter{Eq(FieldTo, "x"), Eq(FieldStatus, models.RequestStatusPending)},
			Order:      Order{Field: FieldCreatedAt},
		})
		require.NoError(t, err)
		require.Len(t, snap.Docs, 2)
		first, err := RequestFromDoc(snap.Docs[0])
		require.NoError(t, err)
		require.Equal(t, "a", first.From)
		require.NotZero(t, first.CreatedAt)
	})

	t.Run("Query contains", func(t *testing.T) {
		for _, members := range [][]string{{"u1", "u2"}, {"u2"}, {"u3", "u1"}} {
			fields, err := GroupFields(models.Group{Name: "g", Members: members, AdminID: members[0]})
			require.NoError(t, err)
			_, err = store.Create(ctx, "groups_query", fields)
			require.NoError(t, err)
		}

		snap, err := store.Query(ctx, Query{
			Collection: "groups_query",
			Filters:    []Filter{Contains(FieldMembers, "u1")},
		})
		require.NoError(t, err)
		require.Len(t, snap.Docs, 2)
	})

	t.Run("Messages window", func(t *testing.T) {
		key := "u1_u2"
		for i := 0; i < 5; i++ {
			fields, err := MessageFields(models.Message{Text: string(rune('a' + i)), AuthorID: "u1"})
			require.NoError(t, err)
			_, err = store.Create(ctx, MessagesCollection(key), fields)
			require.NoError(t, err)
		}

		snap, err := store.Query(ctx, MessagesQuery(key, 3))
		require.NoError(t, err)
		require.Len(t, snap.Docs, 3)

		var texts []string
		var last int64
		for _, doc := range snap.Docs {
			m, err := MessageFromDoc(key, doc)
			require.NoError(t, err)
			require.Greater(t, m.CreatedAt, last)
			last = m.CreatedAt
			texts = append(texts, m.Text)
		}
		require.Equal(t, []string{"c", "d", "e"}, texts)
	})
}

func TestStorage_ServerClockMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	frozen := time.UnixMilli(1_700_000_000_000)
	store.now = func() time.Time { return frozen }

	var last int64
	for i := 0; i < 10; i++ {
		id, err := store.Create(ctx, "clock", Fields{FieldCreatedAt: ServerTimestamp})
		require.NoError(t, err)
		doc, err := store.Get(ctx, DocRef{"clock", id})
		require.NoError(t, err)
		ts := doc.Fields[FieldCreatedAt].(int64)
		require.Greater(t, ts, last)
		last = ts
	}

	// The clock never goes backwards even when the wall clock does.
	store.now = func() time.Time { return frozen.Add(-time.Hour) }
	id, err := store.Create(ctx, "clock", Fields{FieldCreatedAt: ServerTimestamp})
	require.NoError(t, err)
	doc, err := store.Get(ctx, DocRef{"clock", id})
	require.NoError(t, err)
	require.Greater(t, doc.Fields[FieldCreatedAt].(int64), last)
}

func TestStorage_Closed(t *testing.T) {
	store, err := NewBboltStore(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Create(context.Background(), "c", Fields{"a": 1})
	require.ErrorIs(t, err, models.ErrTransientStore)

	_, err = store.LiveQuery(context.Background(), Query{Collection: "c"}, func(Snapshot, error) {})
	require.ErrorIs(t, err, models.ErrTransientStore)
}
