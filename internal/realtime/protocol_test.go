package realtime

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	sid := uuid.New()
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"join without data", `{"type":"join","sessionId":"` + sid.String() + `"}`, nil},
		{"null data", `{"type":"tab_switch","sessionId":"` + sid.String() + `","data":null}`, nil},
		{"unknown type", `{"type":"dance","sessionId":"` + sid.String() + `"}`, ErrUnknownType},
		{"not json", `{"type":`, ErrMalformed},
		{"bad session id", `{"type":"join","sessionId":"nope"}`, ErrMalformed},
		{"wrong payload shape", `{"type":"break_end","sessionId":"` + sid.String() + `","data":{"actualDuration":"ten"}}`, ErrMalformed},
		{"negative break", `{"type":"break_end","sessionId":"` + sid.String() + `","data":{"actualDuration":-5}}`, ErrMalformed},
		{"blank chat", `{"type":"chat_message","sessionId":"` + sid.String() + `","data":{"content":"   "}}`, ErrMalformed},
		{"mute without user", `{"type":"mute_participant","sessionId":"` + sid.String() + `","data":{}}`, ErrMalformed},
		{"unknown stroke tool", `{"type":"whiteboard_update","sessionId":"` + sid.String() + `","data":{"content":[{"tool":"laser"}]}}`, ErrMalformed},
		{"unknown control action", `{"type":"presentation_control","sessionId":"` + sid.String() + `","data":{"presentationId":"` + uuid.NewString() + `","action":"explode"}}`, ErrMalformed},
		{"page below one", `{"type":"presentation_control","sessionId":"` + sid.String() + `","data":{"presentationId":"` + uuid.NewString() + `","action":"setPage","page":0}}`, ErrMalformed},
		{"grant without user", `{"type":"presentation_control","sessionId":"` + sid.String() + `","data":{"presentationId":"` + uuid.NewString() + `","action":"grantEdit"}}`, ErrMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.raw))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sid, msg.SessionID)
		})
	}
}

func TestDecodeChatTrimsAndLimits(t *testing.T) {
	sid := uuid.New()
	msg, err := Decode([]byte(`{"type":"chat_message","sessionId":"` + sid.String() + `","data":{"content":"  hello  "}}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Payload.(*ChatMessagePayload).Content)

	long := strings.Repeat("é", maxChatRunes+1)
	_, err = Decode([]byte(`{"type":"chat_message","sessionId":"` + sid.String() + `","data":{"content":"` + long + `"}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEveryKnownType(t *testing.T) {
	for typ := range payloadTypes {
		_, err := Decode([]byte(`{"type":"` + typ + `","sessionId":"` + uuid.NewString() + `"}`))
		if err != nil {
			assert.ErrorIs(t, err, ErrMalformed, typ)
		}
	}
}

func TestConcentrationTogglePayloadOptional(t *testing.T) {
	sid := uuid.New()
	msg, err := Decode([]byte(`{"type":"concentration_toggle","sessionId":"` + sid.String() + `"}`))
	require.NoError(t, err)
	assert.Nil(t, msg.Payload.(*ConcentrationTogglePayload).Enabled)

	msg, err = Decode([]byte(`{"type":"concentration_toggle","sessionId":"` + sid.String() + `","data":{"enabled":false}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Payload.(*ConcentrationTogglePayload).Enabled)
	assert.False(t, *msg.Payload.(*ConcentrationTogglePayload).Enabled)
}
