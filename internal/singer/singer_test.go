package singer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	st, err := ParseState([]byte(`{"bookmarks": {"users": {"updated_at": "2021-01-01T00:00:00.000Z"}, "logs": {"seq": 42}}}`))
	require.NoError(t, err)

	v, ok := st.Bookmark("users", "updated_at")
	require.True(t, ok)
	assert.Equal(t, "2021-01-01T00:00:00.000Z", v)

	_, ok = st.Bookmark("logs", "seq")
	assert.False(t, ok, "non-string bookmark values are not watermarks")

	_, ok = st.Bookmark("roles", "updated_at")
	assert.False(t, ok)
}

func TestParseStateEmpty(t *testing.T) {
	st, err := ParseState(nil)
	require.NoError(t, err)
	assert.NotNil(t, st.Bookmarks)

	st, err = ParseState([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, st.Bookmarks)

	_, err = ParseState([]byte(`{"bookmarks": [`))
	assert.Error(t, err)
}

func TestWithBookmarkMergesStreams(t *testing.T) {
	prior, err := ParseState([]byte(`{"bookmarks": {"logs": {"seq": "900"}, "users": {"updated_at": "a", "extra": "kept"}}}`))
	require.NoError(t, err)

	next := prior.WithBookmark("users", "updated_at", "b")

	v, _ := next.Bookmark("users", "updated_at")
	assert.Equal(t, "b", v)
	v, _ = next.Bookmark("users", "extra")
	assert.Equal(t, "kept", v)
	v, _ = next.Bookmark("logs", "seq")
	assert.Equal(t, "900", v)

	// prior is untouched
	v, _ = prior.Bookmark("users", "updated_at")
	assert.Equal(t, "a", v)
}

func TestCurrentlySyncing(t *testing.T) {
	st := NewState().WithCurrentlySyncing("users")
	require.NotNil(t, st.CurrentlySyncing)
	assert.Equal(t, "users", *st.CurrentlySyncing)

	cleared := st.WithCurrentlySyncing("")
	assert.Nil(t, cleared.CurrentlySyncing)
	assert.NotNil(t, st.CurrentlySyncing)
}

func TestWriterEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.now = func() time.Time { return time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC) }

	require.NoError(t, w.WriteSchema("users", json.RawMessage(`{"type":"object"}`), []string{"user_id"}))
	require.NoError(t, w.WriteRecords("users", []json.RawMessage{
		json.RawMessage(`{"user_id":"auth0|1","updated_at":"2022-01-01T00:00:00.000Z"}`),
		json.RawMessage(`{"user_id":"auth0|2","updated_at":"2022-01-02T00:00:00.000Z"}`),
	}))
	require.NoError(t, w.WriteState(NewState().WithBookmark("users", "updated_at", "2022-01-02T00:00:00.000Z")))

	var lines []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)

	assert.Equal(t, TypeSchema, lines[0]["type"])
	assert.Equal(t, []any{"user_id"}, lines[0]["key_properties"])
	assert.Equal(t, TypeRecord, lines[1]["type"])
	assert.Equal(t, "2022-05-06T07:08:09Z", lines[1]["time_extracted"])
	assert.Equal(t, "auth0|2", lines[2]["record"].(map[string]any)["user_id"])
	assert.Equal(t, TypeState, lines[3]["type"])

	value := lines[3]["value"].(map[string]any)
	assert.Equal(t, "2022-01-02T00:00:00.000Z", value["bookmarks"].(map[string]any)["users"].(map[string]any)["updated_at"])
}

func TestLoadSchemaAndDiscover(t *testing.T) {
	schema, err := LoadSchema("users")
	require.NoError(t, err)

	var doc struct {
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(schema, &doc))
	assert.Contains(t, doc.Properties, "user_id")
	assert.Contains(t, doc.Properties, "updated_at")

	_, err = LoadSchema("roles")
	assert.Error(t, err)

	catalog, err := Discover(Users)
	require.NoError(t, err)
	require.Len(t, catalog.Streams, 1)
	assert.Equal(t, "users", catalog.Streams[0].TapStreamID)
	assert.Equal(t, "updated_at", catalog.Streams[0].ReplicationKey)
	assert.Equal(t, []string{"user_id"}, catalog.Streams[0].KeyProperties)
}
