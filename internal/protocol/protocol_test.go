package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"snipex/internal/field"
	"snipex/internal/snippet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMailbox_FIFOAndNonBlockingPost(t *testing.T) {
	mb := NewMailbox()
	for i := 0; i < 1000; i++ {
		require.True(t, mb.Send(Message{Action: AudienceSelection, Text: string(rune('a' + i%26))}))
	}
	assert.Equal(t, 1000, mb.Len())

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		env, err := mb.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+i%26)), env.Message.Text)
	}
}

func TestMailbox_ReceiveHonoursContext(t *testing.T) {
	mb := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mb.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_CloseDrainsThenFails(t *testing.T) {
	mb := NewMailbox()
	mb.Send(Message{Action: WindowClosed})
	mb.Close()
	assert.False(t, mb.Send(Message{Action: WindowClosed}))

	ctx := context.Background()
	env, err := mb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, WindowClosed, env.Message.Action)

	_, err = mb.Receive(ctx)
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMailbox_ConcurrentSendersKeepPerSenderOrder(t *testing.T) {
	mb := NewMailbox()
	const senders, per = 4, 200

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				mb.Send(Message{ElementID: string(rune('A' + s)), Text: string(rune(i))})
			}
		}(s)
	}
	wg.Wait()

	last := map[string]int{}
	ctx := context.Background()
	for i := 0; i < senders*per; i++ {
		env, err := mb.Receive(ctx)
		require.NoError(t, err)
		n := int([]rune(env.Message.Text)[0])
		if prev, ok := last[env.Message.ElementID]; ok {
			assert.Greater(t, n, prev)
		}
		last[env.Message.ElementID] = n
	}
}

func TestRequest(t *testing.T) {
	mb := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env, err := mb.Receive(ctx)
		if err != nil {
			return
		}
		env.Respond(Response{Success: true, Text: env.Message.Text + "!"})
	}()

	resp, err := Request(ctx, mb, Message{Action: GetAudienceData, Text: "hi"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "hi!", resp.Text)
	<-done
}

func TestRequest_ClosedMailbox(t *testing.T) {
	mb := NewMailbox()
	mb.Close()
	_, err := Request(context.Background(), mb, Message{Action: GetAudienceData})
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMessage_JSONShape(t *testing.T) {
	msg := Message{
		Action:          OpenAudiencePopup,
		ElementID:       "e1",
		Variants:        &snippet.Variants{Internal: "du", External: "Sie"},
		DefaultAudience: snippet.Internal,
		Field:           field.Ref{Tab: "t", Frame: "0", Element: "e1"},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "openAudiencePopup", raw["action"])
	assert.Equal(t, "e1", raw["elementId"])
	assert.Equal(t, "internal", raw["defaultAudience"])
	assert.NotContains(t, raw, "sessionId")
}

func TestRouterFunc(t *testing.T) {
	var got Message
	r := RouterFunc(func(ctx context.Context, ref field.Ref, msg Message) error {
		got = msg
		return nil
	})
	require.NoError(t, r.Deliver(context.Background(), field.Ref{}, Message{Action: FillVariables}))
	assert.Equal(t, FillVariables, got.Action)
}

func TestFail(t *testing.T) {
	r := Fail(assert.AnError)
	assert.False(t, r.Success)
	assert.Equal(t, assert.AnError.Error(), r.Error)
}
