package logd

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFrameCodec(t *testing.T) {
	frame, err := DecodeFrame([]byte(`["reply",3,{"ok":true}]`))
	assert.Equal(t, err, nil)
	assert.Equal(t, frame.Kind, FrameReply)
	n, err := frame.IntArg(0)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, int64(3))
	assert.Equal(t, string(frame.Arg(1)), `{"ok":true}`)
	assert.Equal(t, frame.Arg(2), nil)

	_, err = frame.StringArg(0)
	assert.NotEqual(t, err, nil)

	_, err = DecodeFrame([]byte(`[]`))
	assert.NotEqual(t, err, nil)
	_, err = DecodeFrame([]byte(`{"a":1}`))
	assert.NotEqual(t, err, nil)
	_, err = DecodeFrame([]byte(`[1]`))
	assert.NotEqual(t, err, nil)

	out, err := EncodeFrame(FramePing)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(out), `["ping"]`)

	out, err = EncodeFrame(FrameSend, 1, map[string]any{"a": "b"})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(out), `["send",1,{"a":"b"}]`)

	out, err = EncodeHandshake(&Session{Token: "t", Sudo: "u"})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(out), `{"sudo":"u","token":"t"}`)
}

func TestDecodeLogItems(t *testing.T) {
	items, errs, err := DecodeLogItems([]byte(`[` +
		`[[["n1","L1"],[0,5]],{"type":"a"}],` +
		`[{"type":"b"},[["n2","L2"],[5,7]]],` +
		`[[["n3"],[0,1]],{"type":"c"}],` +
		`"bad"` +
		`]`))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(items), 2)
	assert.Equal(t, len(errs), 2)

	assert.Equal(t, items[0].Locus, Locus{NodeId: "n1", LogId: "L1", Lower: 0, Upper: 5})
	assert.Equal(t, items[0].Message.Type(), "a")
	// message first order
	assert.Equal(t, items[1].Locus, Locus{NodeId: "n2", LogId: "L2", Lower: 5, Upper: 7})
	assert.Equal(t, items[1].Message.Type(), "b")

	_, _, err = DecodeLogItems([]byte(`{}`))
	assert.NotEqual(t, err, nil)
}

func TestMessage(t *testing.T) {
	message := Message{
		"type": "login",
		"session": map[string]any{
			"identity": "u1",
		},
		"n": 1,
	}
	assert.Equal(t, message.Type(), "login")
	assert.Equal(t, message.String("n"), "")
	assert.Equal(t, message.Object("session")["identity"], "u1")
	assert.Equal(t, message.Object("missing") == nil, true)
}
