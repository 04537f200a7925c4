package singer

import (
	"encoding/json"
	"fmt"
)

// State is the Singer state document. Bookmarks for every stream are kept so
// that updating one stream never drops another's progress.
type State struct {
	Bookmarks        map[string]map[string]any `json:"bookmarks"`
	CurrentlySyncing *string                   `json:"currently_syncing"`
}

// NewState returns an empty state document.
func NewState() *State {
	return &State{Bookmarks: map[string]map[string]any{}}
}

// ParseState decodes a state document. Empty input yields an empty state.
func ParseState(data []byte) (*State, error) {
	st := NewState()
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if st.Bookmarks == nil {
		st.Bookmarks = map[string]map[string]any{}
	}
	return st, nil
}

// Bookmark returns the string value stored for stream/key.
func (s *State) Bookmark(stream, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Bookmarks[stream][key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}

// WithBookmark returns a copy of s with stream/key set to value.
func (s *State) WithBookmark(stream, key, value string) *State {
	next := s.Clone()
	entry, ok := next.Bookmarks[stream]
	if !ok {
		entry = map[string]any{}
		next.Bookmarks[stream] = entry
	}
	entry[key] = value
	return next
}

// WithCurrentlySyncing returns a copy of s with currently_syncing set, or
// cleared when stream is empty.
func (s *State) WithCurrentlySyncing(stream string) *State {
	next := s.Clone()
	if stream == "" {
		next.CurrentlySyncing = nil
	} else {
		next.CurrentlySyncing = &stream
	}
	return next
}

// Clone deep-copies the bookmark maps.
func (s *State) Clone() *State {
	out := NewState()
	if s == nil {
		return out
	}
	for stream, entry := range s.Bookmarks {
		cp := make(map[string]any, len(entry))
		for k, v := range entry {
			cp[k] = v
		}
		out.Bookmarks[stream] = cp
	}
	if s.CurrentlySyncing != nil {
		name := *s.CurrentlySyncing
		out.CurrentlySyncing = &name
	}
	return out
}
