package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameInvokeRoundTrip(t *testing.T) {
	in := Frame{
		Type:    FrameInvoke,
		ID:      7,
		Channel: "geolocation/provider",
		Method:  "requestFix",
		Args:    json.RawMessage(`{"highAccuracy":true}`),
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Frame
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Channel, out.Channel)
	assert.Equal(t, in.Method, out.Method)
	assert.JSONEq(t, string(in.Args), string(out.Args))
	assert.Nil(t, out.Error)
}

func TestFrameOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Frame{Type: FrameListen, Channel: "geolocation/updates"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"listen","channel":"geolocation/updates"}`, string(data))
}

func TestFrameErrorResult(t *testing.T) {
	data := []byte(`{"type":"result","id":3,"error":{"code":"permissionDenied","message":"no"}}`)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, FrameResult, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "permissionDenied", frame.Error.Code)
	assert.Equal(t, "no", frame.Error.Message)
}
