package sessionkit

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// sessionEnvelope is the record layout of key/value stores, which have no
// columns for the timestamps.
type sessionEnvelope struct {
	Values    map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time
}

func init() {
	gob.Register(map[string]any{})
	gob.Register(sessionEnvelope{})
}

// encodeGob encodes v into a pooled buffer. The caller must release the
// buffer with PutBuffer once the bytes have been consumed.
func encodeGob(v any) (*bytes.Buffer, error) {
	buf := getBuffer()
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		PutBuffer(buf)
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	return buf, nil
}

func decodeGob(data []byte, v any) error {
	reader := readerPool.Get().(*bytes.Reader)
	reader.Reset(data)
	defer readerPool.Put(reader)

	if err := gob.NewDecoder(reader).Decode(v); err != nil {
		return fmt.Errorf("failed to decode session data: %w", err)
	}
	return nil
}

// decodeValues decodes a column payload. NULL or empty data yields an empty map.
func decodeValues(data []byte) (map[string]any, error) {
	var values map[string]any
	if len(data) > 0 {
		if err := decodeGob(data, &values); err != nil {
			return nil, err
		}
	}
	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}

func decodeEnvelope(data []byte) (sessionEnvelope, error) {
	var env sessionEnvelope
	if err := decodeGob(data, &env); err != nil {
		return sessionEnvelope{}, err
	}
	if env.Values == nil {
		env.Values = make(map[string]any)
	}
	return env, nil
}

func (env sessionEnvelope) session(id string) *Session {
	return &Session{
		ID:        id,
		Values:    env.Values,
		CreatedAt: env.CreatedAt,
		ExpiresAt: env.ExpiresAt,
	}
}
