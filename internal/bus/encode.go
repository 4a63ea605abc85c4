package bus

import (
	"bytes"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Kind string

const (
	KindAlert    Kind = "alert"
	KindSelected Kind = "selected"
	KindPlan     Kind = "plan"
	KindResult   Kind = "result"
)

// Event is the envelope published for every pipeline stage transition.
type Event struct {
	Kind       Kind
	ID         string
	PositionID string
	Time       time.Time
	Payload    any
}

// Envelope is a decoded event whose payload is left raw for the reader.
type Envelope struct {
	Kind        Kind
	ID          string
	PositionID  string
	TimestampMS int64
	Payload     msgpack.RawMessage
}

// Encode writes the envelope keys in a fixed order so consumers can rely on
// byte-stable output for identical events.
func Encode(ev Event) ([]byte, error) {
	if ev.Kind == "" {
		return nil, errors.New("event kind is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.EncodeMapLen(5); err != nil {
		return nil, err
	}
	if err := encodeString(enc, "kind", string(ev.Kind)); err != nil {
		return nil, err
	}
	if err := encodeString(enc, "id", ev.ID); err != nil {
		return nil, err
	}
	if err := encodeString(enc, "position_id", ev.PositionID); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("ts"); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(ev.Time.UnixMilli()); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("payload"); err != nil {
		return nil, err
	}
	if err := enc.Encode(ev.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeString(enc *msgpack.Encoder, key, val string) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeString(val)
}

func Decode(data []byte) (Envelope, error) {
	var raw struct {
		Kind       string             `msgpack:"kind"`
		ID         string             `msgpack:"id"`
		PositionID string             `msgpack:"position_id"`
		TS         int64              `msgpack:"ts"`
		Payload    msgpack.RawMessage `msgpack:"payload"`
	}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return Envelope{}, err
	}
	if raw.Kind == "" {
		return Envelope{}, errors.New("event kind missing")
	}
	return Envelope{
		Kind:        Kind(raw.Kind),
		ID:          raw.ID,
		PositionID:  raw.PositionID,
		TimestampMS: raw.TS,
		Payload:     raw.Payload,
	}, nil
}
