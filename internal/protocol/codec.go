package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"voicekey/internal/domain"
)

// MaxDatagramSize is the receive buffer size; longer datagrams are truncated by the transport.
const MaxDatagramSize = 8192

// Kind tells how a decoded payload is merged into the store.
type Kind string

const (
	KindFull  Kind = "full"
	KindPatch Kind = "patch"
)

// Update is a decoded datagram. Exactly one of State or Patch is meaningful, selected by Kind.
type Update struct {
	Kind  Kind
	State domain.OverlayState
	Patch domain.OverlayPatch
}

// Reasons carried in the "reason" detail of MALFORMED_PAYLOAD errors from Decode.
const (
	ReasonInvalidUTF8  = "invalid_utf8"
	ReasonInvalidShape = "invalid_shape"
)

var errNotObject = errors.New("payload is not a JSON object")

// Decode interprets payload as a full state first and as a patch second.
// Any object whose known keys carry the right JSON types and no nulls on
// required fields is a full replacement, even when it names a single field.
func Decode(payload []byte) (Update, error) {
	if !utf8.Valid(payload) {
		return Update{}, domain.MalformedPayload("invalid UTF-8 payload", payload).
			WithDetail("reason", ReasonInvalidUTF8)
	}

	fields, err := decodeObject(payload)
	if err != nil {
		return Update{}, domain.MalformedPayload("ignored payload (invalid JSON shape)", payload).
			WithDetail("reason", ReasonInvalidShape).
			WithDetail("error", err.Error())
	}

	if state, err := decodeFull(fields); err == nil {
		return Update{Kind: KindFull, State: state}, nil
	}
	patch, err := decodePatch(fields)
	if err != nil {
		return Update{}, domain.MalformedPayload("ignored payload (invalid JSON shape)", payload).
			WithDetail("reason", ReasonInvalidShape).
			WithDetail("error", err.Error())
	}
	return Update{Kind: KindPatch, Patch: patch}, nil
}

// RejectReason returns the reason detail of a Decode error, or "" when err carries none.
func RejectReason(err error) string {
	var coded *domain.Error
	if !errors.As(err, &coded) {
		return ""
	}
	reason, _ := coded.Details["reason"].(string)
	return reason
}

// DecodeState decodes payload strictly as a full record.
func DecodeState(payload []byte) (domain.OverlayState, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return domain.OverlayState{}, err
	}
	return decodeFull(fields)
}

// DecodePatch decodes payload strictly as a patch.
func DecodePatch(payload []byte) (domain.OverlayPatch, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return domain.OverlayPatch{}, err
	}
	return decodePatch(fields)
}

func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	// "null" unmarshals into a nil map without error.
	if fields == nil {
		return nil, errNotObject
	}
	return fields, nil
}

func decodeFull(fields map[string]json.RawMessage) (domain.OverlayState, error) {
	state := domain.DefaultState()
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"connection", &state.Connection},
		{"listening", &state.Listening},
		{"processing", &state.Processing},
		{"target", &state.Target},
	} {
		if err := requiredField(fields, f.key, f.dst); err != nil {
			return domain.OverlayState{}, err
		}
	}
	if err := requiredField(fields, "level", &state.Level); err != nil {
		return domain.OverlayState{}, err
	}
	if err := requiredField(fields, "visible", &state.Visible); err != nil {
		return domain.OverlayState{}, err
	}
	message, err := optionalField[string](fields, "message")
	if err != nil {
		return domain.OverlayState{}, err
	}
	state.Message = message
	return state.Normalized(), nil
}

func decodePatch(fields map[string]json.RawMessage) (domain.OverlayPatch, error) {
	var (
		patch domain.OverlayPatch
		err   error
	)
	if patch.Connection, err = optionalField[string](fields, "connection"); err != nil {
		return domain.OverlayPatch{}, err
	}
	if patch.Listening, err = optionalField[string](fields, "listening"); err != nil {
		return domain.OverlayPatch{}, err
	}
	if patch.Processing, err = optionalField[string](fields, "processing"); err != nil {
		return domain.OverlayPatch{}, err
	}
	if patch.Target, err = optionalField[string](fields, "target"); err != nil {
		return domain.OverlayPatch{}, err
	}
	if patch.Level, err = optionalField[float64](fields, "level"); err != nil {
		return domain.OverlayPatch{}, err
	}
	if patch.Visible, err = optionalField[bool](fields, "visible"); err != nil {
		return domain.OverlayPatch{}, err
	}
	if patch.Message, err = optionalField[string](fields, "message"); err != nil {
		return domain.OverlayPatch{}, err
	}
	return patch, nil
}

// requiredField leaves dst untouched when key is absent and rejects null.
func requiredField[T any](fields map[string]json.RawMessage, key string, dst *T) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if isNull(raw) {
		return fmt.Errorf("field %q: null is not allowed", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

// optionalField returns nil for an absent or null key.
func optionalField[T any](fields map[string]json.RawMessage, key string) (*T, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return &value, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
