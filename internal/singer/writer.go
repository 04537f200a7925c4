package singer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Message types of the Singer tap protocol.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

type SchemaMessage struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream"`
	Schema        json.RawMessage `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
}

type RecordMessage struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream"`
	Record        json.RawMessage `json:"record"`
	TimeExtracted string          `json:"time_extracted,omitempty"`
}

type StateMessage struct {
	Type  string `json:"type"`
	Value *State `json:"value"`
}

// Writer emits Singer messages as JSON lines. Each message is flushed before
// the call returns so a STATE line never precedes the records it covers.
type Writer struct {
	mu  sync.Mutex
	out *bufio.Writer
	enc *json.Encoder
	now func() time.Time
}

func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{
		out: buf,
		enc: enc,
		now: time.Now,
	}
}

func (w *Writer) WriteSchema(stream string, schema json.RawMessage, keyProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.write(SchemaMessage{
		Type:          TypeSchema,
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	})
}

func (w *Writer) WriteRecords(stream string, records []json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	extracted := w.now().UTC().Format(time.RFC3339Nano)
	for _, rec := range records {
		msg := RecordMessage{
			Type:          TypeRecord,
			Stream:        stream,
			Record:        rec,
			TimeExtracted: extracted,
		}
		if err := w.enc.Encode(msg); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return w.out.Flush()
}

func (w *Writer) WriteState(state *State) error {
	return w.write(StateMessage{Type: TypeState, Value: state.Clone()})
}

func (w *Writer) write(msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return w.out.Flush()
}
