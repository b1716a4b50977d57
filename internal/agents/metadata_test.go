package agents

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMetadataSmallUsesJSON(t *testing.T) {
	blob, err := EncodeMetadata(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, metadataFormatJSON, blob[0])

	var out map[string]interface{}
	require.NoError(t, DecodeMetadata(blob, &out))
	assert.Equal(t, float64(1), out["a"])
}

func TestEncodeDecodeMetadataLargeUsesMsgpack(t *testing.T) {
	big := map[string]interface{}{"blob": strings.Repeat("x", metadataJSONThreshold+100)}
	blob, err := EncodeMetadata(big)
	require.NoError(t, err)
	assert.Equal(t, metadataFormatMsgpack, blob[0])

	var out map[string]interface{}
	require.NoError(t, DecodeMetadata(blob, &out))
	assert.Equal(t, big["blob"], out["blob"])
}

func TestDecodeMetadataEmptyIsNoop(t *testing.T) {
	var out map[string]interface{}
	assert.NoError(t, DecodeMetadata(nil, &out))
}

func TestDecodeMetadataUnknownFormatErrors(t *testing.T) {
	var out map[string]interface{}
	assert.Error(t, DecodeMetadata([]byte{0xFF, 0x01}, &out))
}
