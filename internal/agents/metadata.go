package agents

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// metadataJSONThreshold is the byte size above which EncodeMetadata
// switches from JSON to msgpack for the agent_runs.metadata BLOB column,
// trading a small compute cost for materially smaller storage on the
// larger agent payloads (full scanner/regime traces).
const metadataJSONThreshold = 2048

const (
	metadataFormatJSON    byte = 0x00
	metadataFormatMsgpack byte = 0x01
)

// EncodeMetadata serializes v for the agent_runs.metadata BLOB column. It
// prefixes the result with a one-byte format tag so DecodeMetadata can
// tell which codec produced it.
func EncodeMetadata(v interface{}) ([]byte, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("agents: marshal metadata: %w", err)
	}
	if len(jsonBytes) <= metadataJSONThreshold {
		return append([]byte{metadataFormatJSON}, jsonBytes...), nil
	}

	packed, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("agents: marshal metadata (msgpack): %w", err)
	}
	return append([]byte{metadataFormatMsgpack}, packed...), nil
}

// DecodeMetadata reverses EncodeMetadata into dst (a pointer).
func DecodeMetadata(blob []byte, dst interface{}) error {
	if len(blob) == 0 {
		return nil
	}
	format, payload := blob[0], blob[1:]
	switch format {
	case metadataFormatJSON:
		return json.Unmarshal(payload, dst)
	case metadataFormatMsgpack:
		return msgpack.Unmarshal(payload, dst)
	default:
		return fmt.Errorf("agents: unknown metadata format tag %d", format)
	}
}
