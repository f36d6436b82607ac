package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSON(t *testing.T) {
	out, err := EncodeJSON(map[string]string{"sender_name": "OTIENO & SONS"})
	require.NoError(t, err)
	assert.Equal(t, "{\"sender_name\":\"OTIENO & SONS\"}\n", string(out))
}

func TestEncodeJSON_ResultOutlivesBuffer(t *testing.T) {
	first, err := EncodeJSON("first")
	require.NoError(t, err)
	_, err = EncodeJSON(strings.Repeat("x", 128))
	require.NoError(t, err)

	assert.Equal(t, "\"first\"\n", string(first))
}

func TestEncodeJSON_Error(t *testing.T) {
	_, err := EncodeJSON(func() {})
	assert.Error(t, err)
}

func TestPutBuffer_DropsOversized(t *testing.T) {
	buf := getBuffer()
	buf.Grow(maxPooledBuffer + 1)
	putBuffer(buf)

	assert.LessOrEqual(t, getBuffer().Cap(), maxPooledBuffer)
}
