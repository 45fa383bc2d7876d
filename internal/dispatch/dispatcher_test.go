package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-chat/internal/dispatch"
	"github.com/Vasu1712/scenyx-chat/internal/models"
	"github.com/Vasu1712/scenyx-chat/internal/reconcile"
	"github.com/Vasu1712/scenyx-chat/internal/testutil"
)

type fakeChannel struct {
	open bool
	sent [][]byte
}

func (c *fakeChannel) Send(p []byte) bool {
	if !c.open {
		return false
	}
	c.sent = append(c.sent, p)
	return true
}

type call struct {
	path        string
	contentType string
	body        []byte
	in          any
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []call
	err      error
	response string
}

func (a *fakeAPI) PostJSON(_ context.Context, path string, in, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call{path: path, in: in})
	return a.err
}

func (a *fakeAPI) Do(_ context.Context, _, path, contentType string, body []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call{path: path, contentType: contentType, body: body})
	if a.err != nil {
		return nil, a.err
	}
	return []byte(a.response), nil
}

func (a *fakeAPI) Calls() []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]call(nil), a.calls...)
}

var target = dispatch.Target{ChannelID: "aliceandbob", Self: "alice", Peer: "bob", PeerID: 2}

type fixture struct {
	ch   *fakeChannel
	api  *fakeAPI
	seq  *reconcile.Reconciler
	exec *testutil.QueueExecutor
	d    *dispatch.Dispatcher
	errs []error
}

func setup(open bool) *fixture {
	f := &fixture{
		ch:   &fakeChannel{open: open},
		api:  &fakeAPI{},
		seq:  reconcile.New(zerolog.Nop()),
		exec: testutil.NewQueueExecutor(),
	}
	f.seq.Reset("aliceandbob")
	f.seq.Seed("aliceandbob", nil)
	f.d = dispatch.New(f.ch, f.api, f.seq, f.exec, zerolog.Nop())
	f.d.OnError(func(err error) { f.errs = append(f.errs, err) })
	return f
}

func TestDispatch_LiveChannel(t *testing.T) {
	f := setup(true)
	require.NoError(t, f.d.Dispatch(target, "  hello  "))

	require.Len(t, f.ch.sent, 1)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(f.ch.sent[0], &frame))
	assert.Equal(t, "chat_message", frame["type"])
	assert.Equal(t, "hello", frame["message"])
	assert.Equal(t, "alice", frame["sender"])
	assert.Equal(t, "bob", frame["receiver"])
	assert.NotEmpty(t, frame["correlation_id"])

	msgs := f.seq.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.Equal(t, frame["correlation_id"], msgs[0].CorrelationID)
	assert.Empty(t, f.api.Calls())
	assert.False(t, f.d.Busy())
}

func TestDispatch_FallbackExactlyOnce(t *testing.T) {
	f := setup(false)
	require.NoError(t, f.d.Dispatch(target, "hello"))
	assert.True(t, f.d.Busy())
	assert.Len(t, f.seq.Messages(), 1, "optimistic entry visible before the POST completes")

	require.True(t, f.exec.RunNext(time.Second))
	calls := f.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "messages/", calls[0].path)
	body, err := json.Marshal(calls[0].in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"bob","text":"hello"}`, string(body))

	msgs := f.seq.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.False(t, f.d.Busy())
	assert.Empty(t, f.errs)
}

func TestDispatch_FallbackFailureRollsBack(t *testing.T) {
	f := setup(false)
	f.api.err = errors.New("503")
	require.NoError(t, f.d.Dispatch(target, "hello"))
	require.True(t, f.exec.RunNext(time.Second))

	assert.Empty(t, f.seq.Messages())
	require.Len(t, f.errs, 1)
	assert.True(t, errors.Is(f.errs[0], models.ErrDispatch))
	assert.Len(t, f.api.Calls(), 1)
}

func TestDispatch_BusyRejectsSecondSend(t *testing.T) {
	f := setup(false)
	require.NoError(t, f.d.Dispatch(target, "one"))
	err := f.d.Dispatch(target, "two")
	require.ErrorIs(t, err, dispatch.ErrBusy)

	require.True(t, f.exec.RunNext(time.Second))
	msgs := f.seq.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Body)
}

func TestDispatch_Preconditions(t *testing.T) {
	cases := map[string]struct {
		target dispatch.Target
		text   string
		want   error
	}{
		"blank text":      {target, "   ", dispatch.ErrEmptyText},
		"no conversation": {dispatch.Target{Self: "alice"}, "hi", dispatch.ErrNoConversation},
		"no user":         {dispatch.Target{ChannelID: "x", Peer: "bob"}, "hi", dispatch.ErrNoUser},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := setup(true)
			err := f.d.Dispatch(tc.target, tc.text)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, errors.Is(err, models.ErrDispatch))
			assert.Empty(t, f.ch.sent)
			assert.Empty(t, f.api.Calls())
			assert.Empty(t, f.seq.Messages())
		})
	}
}

func TestDispatchFile_Upload(t *testing.T) {
	f := setup(true)
	f.d.ResolveMedia = func(p string) string { return "http://h" + p }
	f.api.response = `{"success":true,"fileUrl":"/media/uploaded_files/cat.png","messageId":9,"timestamp":"2024-05-01T10:00:00Z"}`

	err := f.d.DispatchFile(target, dispatch.Upload{Name: "cat.png", MediaType: "image/png", Data: []byte("png-bytes")})
	require.NoError(t, err)
	pending := f.seq.Messages()
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)

	require.True(t, f.exec.RunNext(time.Second))
	calls := f.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "messages/2/files/", calls[0].path)
	assert.True(t, strings.HasPrefix(calls[0].contentType, "multipart/form-data"))
	assert.Contains(t, string(calls[0].body), "png-bytes")
	assert.Empty(t, f.ch.sent, "files never use the live channel")

	msgs := f.seq.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFinal, msgs[0].Status)
	assert.Equal(t, "9", msgs[0].ID)
	assert.Equal(t, "http://h/media/uploaded_files/cat.png", msgs[0].File.URL)
}

func TestDispatchFile_Rejected(t *testing.T) {
	f := setup(true)
	f.api.response = `{"success":false,"message":"quota"}`
	require.NoError(t, f.d.DispatchFile(target, dispatch.Upload{Name: "a.pdf", MediaType: "application/pdf", Data: []byte("x")}))
	require.True(t, f.exec.RunNext(time.Second))

	assert.Empty(t, f.seq.Messages())
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], dispatch.ErrUploadRejected)
}

func TestDispatchFile_Validation(t *testing.T) {
	f := setup(true)
	err := f.d.DispatchFile(target, dispatch.Upload{Name: "a.exe", MediaType: "application/x-msdownload", Data: []byte("x")})
	assert.ErrorIs(t, err, dispatch.ErrFileType)

	big := make([]byte, dispatch.MaxFileSize+1)
	err = f.d.DispatchFile(target, dispatch.Upload{Name: "big.mp4", MediaType: "video/mp4", Data: big})
	assert.ErrorIs(t, err, dispatch.ErrFileTooLarge)
	assert.Contains(t, err.Error(), "25 MiB")

	assert.Empty(t, f.api.Calls())
	assert.Empty(t, f.seq.Messages())
}
