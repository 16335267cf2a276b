package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/voicechat/internal/proto"
)

func storeIDs(s *Store) []string {
	out := make([]string, 0, s.Len())
	for _, m := range s.All() {
		out = append(out, m.ID)
	}
	return out
}

func TestStoreInsertDeduplicates(t *testing.T) {
	s := NewStore()
	m := textMsg("1", "r", 0, "hi")

	assert.True(t, s.Insert(m))
	assert.False(t, s.Insert(m), "push echo of the same id")
	edited := m
	edited.Content = str("changed")
	assert.False(t, s.Insert(edited))

	require.Equal(t, 1, s.Len())
	got, _ := s.Get("1")
	assert.Equal(t, "hi", *got.Content)
}

func TestStoreInsertOrdering(t *testing.T) {
	tests := []struct {
		name   string
		insert []proto.Message
		want   []string
	}{
		{
			name:   "in order appends",
			insert: []proto.Message{textMsg("a", "r", 0, ""), textMsg("b", "r", time.Second, ""), textMsg("c", "r", 2*time.Second, "")},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "late arrival sorted in",
			insert: []proto.Message{textMsg("a", "r", 0, ""), textMsg("c", "r", 2*time.Second, ""), textMsg("b", "r", time.Second, "")},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "older than everything goes first",
			insert: []proto.Message{textMsg("b", "r", time.Second, ""), textMsg("c", "r", 2*time.Second, ""), textMsg("a", "r", 0, "")},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "equal timestamps keep arrival order",
			insert: []proto.Message{textMsg("x", "r", time.Second, ""), textMsg("z", "r", 2*time.Second, ""), textMsg("y", "r", time.Second, "")},
			want:   []string{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			for _, m := range tt.insert {
				s.Insert(m)
			}
			assert.Equal(t, tt.want, storeIDs(s))
			for _, id := range tt.want {
				got, ok := s.Get(id)
				require.True(t, ok)
				assert.Equal(t, id, got.ID, "index points at the right entity")
			}
		})
	}
}

func TestStoreTranscriptionNoOpOnAbsence(t *testing.T) {
	s := NewStore()
	s.Insert(textMsg("1", "r", 0, "hi"))
	before := s.All()

	assert.False(t, s.ApplyTranscription("missing", str("x")))
	assert.Equal(t, before, s.All())
}

func TestStoreTombstoneIdempotent(t *testing.T) {
	once := NewStore()
	twice := NewStore()
	for _, s := range []*Store{once, twice} {
		m := textMsg("2", "r", 0, "secret")
		m.FileURL = str("/uploads/x.png")
		s.Insert(m)
	}

	assert.True(t, once.Tombstone("2"))
	assert.True(t, twice.Tombstone("2"))
	assert.False(t, twice.Tombstone("2"))

	assert.Equal(t, once.All(), twice.All())
	got, _ := twice.Get("2")
	assert.True(t, got.IsDeleted)
	assert.Nil(t, got.Content)
	assert.Nil(t, got.FileURL)
	assert.Equal(t, Tombstoned, Render(got, "anyone"))

	assert.False(t, twice.ApplyTranscription("2", str("late")), "tombstones are not re-enriched")
}

func TestStoreHideIsPerViewer(t *testing.T) {
	s := NewStore()
	s.Insert(textMsg("1", "r", 0, "hi"))

	assert.True(t, s.Hide("1", "A"))
	assert.False(t, s.Hide("1", "A"))

	got, _ := s.Get("1")
	assert.Equal(t, Hidden, Render(got, "A"))
	assert.Equal(t, Shown, Render(got, "B"))
	assert.Equal(t, "hi", *got.Content, "hiding does not modify content")
	assert.Len(t, Project(s.All(), "A"), 0)
	assert.Len(t, Project(s.All(), "B"), 1)
}

func TestStoreResetSortsAndDeduplicates(t *testing.T) {
	s := NewStore()
	s.Reset([]proto.Message{
		textMsg("b", "r", time.Second, ""),
		textMsg("a", "r", 0, "first"),
		textMsg("a", "r", 0, "second"),
	})
	assert.Equal(t, []string{"a", "b"}, storeIDs(s))
	got, _ := s.Get("a")
	assert.Equal(t, "first", *got.Content)

	oldest, ok := s.Oldest()
	assert.True(t, ok)
	assert.Equal(t, "a", oldest)
}

func TestMergeSnapshotKeepsNewerState(t *testing.T) {
	voice := proto.Message{ID: "v", RoomID: "r", MessageType: proto.KindVoice, CreatedAt: t0}
	transcribed := voice
	transcribed.Transcription = str("hello")
	transcribed.IsTranscribed = true

	gone := textMsg("d", "r", time.Second, "bye")
	goneLocal := gone
	tombstone(&goneLocal)

	pushed := textMsg("p", "r", 2*time.Second, "fresh")

	out := mergeSnapshot(
		[]proto.Message{voice, gone},
		[]proto.Message{transcribed, goneLocal, pushed},
	)

	s := NewStore()
	s.Reset(out)
	assert.Equal(t, []string{"v", "d", "p"}, storeIDs(s))

	v, _ := s.Get("v")
	assert.True(t, v.IsTranscribed)
	assert.Equal(t, "hello", *v.Transcription)

	d, _ := s.Get("d")
	assert.True(t, d.IsDeleted)
	assert.Nil(t, d.Content)
}

func TestLatestVisibleSkipsTombstones(t *testing.T) {
	s := NewStore()
	s.Insert(textMsg("1", "r", 0, "a"))
	s.Insert(textMsg("2", "r", time.Second, "b"))
	s.Tombstone("2")

	m, ok := s.LatestVisible("bob")
	require.True(t, ok)
	assert.Equal(t, "1", m.ID)
}

func TestLatestVisibleSkipsHiddenForViewer(t *testing.T) {
	s := NewStore()
	s.Insert(textMsg("1", "r", 0, "a"))
	s.Insert(textMsg("2", "r", time.Second, "b"))
	s.Hide("2", "bob")

	m, ok := s.LatestVisible("bob")
	require.True(t, ok)
	assert.Equal(t, "1", m.ID)

	m, ok = s.LatestVisible("carol")
	require.True(t, ok)
	assert.Equal(t, "2", m.ID, "hidden only for bob")

	s.Hide("1", "bob")
	_, ok = s.LatestVisible("bob")
	assert.False(t, ok)
}
