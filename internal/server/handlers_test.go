package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wablast/internal/dispatch"
	"wablast/internal/eventbus"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

type stubClient struct {
	ready bool
	info  *transport.ClientInfo
}

func (c *stubClient) Connect(context.Context) error    { return nil }
func (c *stubClient) Disconnect(context.Context) error { return nil }
func (c *stubClient) Ready() bool                      { return c.ready }
func (c *stubClient) Info() *transport.ClientInfo      { return c.info }

func (c *stubClient) Status() transport.ConnState {
	if c.ready {
		return transport.StateReady
	}
	return transport.StateDisconnected
}

func (c *stubClient) SendText(context.Context, string, string) error {
	if !c.ready {
		return transport.ErrNotReady
	}
	return nil
}

func (c *stubClient) SendMedia(context.Context, string, string, string) error {
	if !c.ready {
		return transport.ErrNotReady
	}
	return nil
}

func newTestAPI(t *testing.T, client transport.Client) *httptest.Server {
	t.Helper()
	bus := eventbus.New()
	jobs := dispatch.New(client, bus, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)

	srv := New(Config{}, client, jobs, nil, bus, logx.Nop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(ts.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, true, body["ready"])
}

func TestClientInfoEndpoint(t *testing.T) {
	info := &transport.ClientInfo{WireID: "628123456789@c.us", PushName: "Ops", ConnectedAt: time.Now()}
	ts := newTestAPI(t, &stubClient{ready: true, info: info})

	resp, err := http.Get(ts.URL + "/api/client-info")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, "628123456789@c.us", body["wireId"])
	assert.Equal(t, "Ops", body["pushName"])
}

func TestSendNotReady(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: false})

	resp := postJSON(t, ts, "/api/send", map[string]any{"to": "628123456789", "content": "hi"})
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "not ready")
}

func TestSubmitJob(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp := postJSON(t, ts, "/api/jobs", map[string]any{
		"recipients": []map[string]any{{"id": "1", "name": "A", "phone": "628123456789"}},
		"template":   map[string]any{"content": "hi {{name}}"},
		"delayConfig": map[string]any{
			"mode":  "static",
			"range": []float64{0},
		},
	})
	body := decodeBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["jobId"])
}

func TestSubmitJobEmptyTemplate(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp := postJSON(t, ts, "/api/jobs", map[string]any{
		"recipients":  []map[string]any{{"phone": "628123456789"}},
		"template":    map[string]any{},
		"delayConfig": map[string]any{"mode": "static", "range": []float64{0}},
	})
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestSubmitJobUnknownField(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp := postJSON(t, ts, "/api/jobs", map[string]any{
		"recipients": []map[string]any{{"phone": "628123456789"}},
		"template":   map[string]any{"content": "hi"},
		"delay":      map[string]any{"mode": "static"},
	})
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestPauseUnknownJob(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp := postJSON(t, ts, "/api/jobs/no-such-job/pause", nil)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestDeliveriesWithoutHistory(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp, err := http.Get(ts.URL + "/api/jobs/any/deliveries")
	require.NoError(t, err)
	defer resp.Body.Close()

	var recs []dispatch.DeliveryRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, recs)
}

func TestConnectDisconnect(t *testing.T) {
	ts := newTestAPI(t, &stubClient{ready: true})

	resp := postJSON(t, ts, "/api/connect", nil)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])

	resp = postJSON(t, ts, "/api/disconnect", nil)
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
}
