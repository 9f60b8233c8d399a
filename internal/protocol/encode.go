package protocol

import (
	"encoding/json"

	"voicekey/internal/domain"
)

// EncodeOptions controls how patches are written on the wire.
type EncodeOptions struct {
	// ForceMerge writes null for every absent required field. The receiver
	// rejects such a payload as a full record and merges it as a patch instead.
	// A patch carrying all six required fields is still a full record.
	ForceMerge bool
}

// EncodeState writes a full record. The receiver replaces its whole state with it.
func EncodeState(state domain.OverlayState) ([]byte, error) {
	return json.Marshal(state)
}

// EncodePatch writes only the fields present in patch.
func EncodePatch(patch domain.OverlayPatch, opts EncodeOptions) ([]byte, error) {
	if !opts.ForceMerge {
		return json.Marshal(patch)
	}

	fields := map[string]interface{}{}
	putOrNull(fields, "connection", patch.Connection)
	putOrNull(fields, "listening", patch.Listening)
	putOrNull(fields, "processing", patch.Processing)
	putOrNull(fields, "target", patch.Target)
	putOrNull(fields, "level", patch.Level)
	putOrNull(fields, "visible", patch.Visible)
	if patch.Message != nil {
		fields["message"] = *patch.Message
	}
	return json.Marshal(fields)
}

func putOrNull[T any](fields map[string]interface{}, key string, value *T) {
	if value == nil {
		fields[key] = nil
		return
	}
	fields[key] = *value
}
