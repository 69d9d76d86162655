package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestJSONDecodeError(t *testing.T) {
	c := JSON[mail]{}

	data, err := c.Encode(mail{To: "ops@example.com", Subject: "hi"})
	require.NoError(t, err)

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", got.To)

	_, err = c.Decode([]byte(`["not", "an", "object"]`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestProto(t *testing.T) {
	c := Proto[*structpb.Struct]{New: func() *structpb.Struct { return &structpb.Struct{} }}

	in, err := structpb.NewStruct(map[string]interface{}{"user": "42"})
	require.NoError(t, err)

	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Fields["user"].GetStringValue())

	_, err = c.Decode([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestStruct(t *testing.T) {
	c := NewStruct()

	data, err := c.Encode(json.RawMessage(`{"to":"ops@example.com","tags":["a","b"],"n":3}`))
	require.NoError(t, err)

	// Stored bytes are a protobuf message, not JSON
	var msg structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &msg))
	assert.Equal(t, "ops@example.com", msg.Fields["to"].GetStringValue())

	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"ops@example.com","tags":["a","b"],"n":3}`, string(out))

	_, err = c.Encode(json.RawMessage(`[1, 2]`))
	assert.Error(t, err)

	_, err = c.Decode([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrDecode)
}
