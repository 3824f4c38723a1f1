package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshoverlay/node/internal/envelope"
)

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestServerClassifiesUserHelloAndDispatches(t *testing.T) {
	dispatched := make(chan *envelope.Envelope, 1)
	handlers := map[string]Handler{
		envelope.TypeUserHello: func(ctx context.Context, link *Link, env *envelope.Envelope) error {
			dispatched <- env
			return link.Send(&envelope.Envelope{Type: envelope.TypeAck, Payload: map[string]any{"msg_ref": envelope.TypeUserHello}})
		},
	}
	verifier := func(env *envelope.Envelope) bool { return true }
	srv := NewServer(verifier, handlers, nil, nil)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	hello := &envelope.Envelope{
		Type:    envelope.TypeUserHello,
		From:    "11111111-1111-4111-8111-111111111111",
		Payload: map[string]any{"client": "cli"},
	}
	require.NoError(t, conn.WriteJSON(hello))

	select {
	case env := <-dispatched:
		assert.Equal(t, envelope.TypeUserHello, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not dispatched")
	}

	var ack envelope.Envelope
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, envelope.TypeAck, ack.Type)
}

func TestServerRejectsUnknownFirstFrameType(t *testing.T) {
	srv := NewServer(func(env *envelope.Envelope) bool { return true }, map[string]Handler{}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(&envelope.Envelope{
		Type:    "GARBAGE",
		From:    "11111111-1111-4111-8111-111111111111",
		Payload: map[string]any{},
	}))

	var errEnv envelope.Envelope
	require.NoError(t, conn.ReadJSON(&errEnv))
	assert.Equal(t, envelope.TypeError, errEnv.Type)
	assert.Equal(t, envelope.ErrCodeUnknownType, errEnv.Payload["code"])
}

func TestServerDropsFrameFailingVerification(t *testing.T) {
	called := false
	handlers := map[string]Handler{
		envelope.TypeUserHello: func(ctx context.Context, link *Link, env *envelope.Envelope) error {
			link.classify(KindUser, env.From)
			return nil
		},
		envelope.TypeMsgDirect: func(ctx context.Context, link *Link, env *envelope.Envelope) error {
			called = true
			return nil
		},
	}
	srv := NewServer(func(env *envelope.Envelope) bool { return false }, handlers, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	uid := "11111111-1111-4111-8111-111111111111"
	require.NoError(t, conn.WriteJSON(&envelope.Envelope{Type: envelope.TypeUserHello, From: uid, Payload: map[string]any{}}))
	require.NoError(t, conn.WriteJSON(&envelope.Envelope{
		Type: envelope.TypeMsgDirect, From: uid, To: "somebody", Sig: "bogus",
		Payload: map[string]any{"ciphertext": "x"},
	}))

	var errEnv envelope.Envelope
	require.NoError(t, conn.ReadJSON(&errEnv))
	assert.Equal(t, envelope.TypeError, errEnv.Type)
	assert.Equal(t, envelope.ErrCodeInvalidSig, errEnv.Payload["code"])
	assert.False(t, called)
}

func TestStructureCheckRejectsMissingPayload(t *testing.T) {
	err := structureCheck(&envelope.Envelope{Type: envelope.TypeHeartbeat, From: "11111111-1111-4111-8111-111111111111"})
	assert.Error(t, err)
}

func TestStructureCheckRejectsNonUUIDFrom(t *testing.T) {
	err := structureCheck(&envelope.Envelope{Type: envelope.TypeHeartbeat, From: "not-a-uuid", Payload: map[string]any{}})
	assert.Error(t, err)
}
