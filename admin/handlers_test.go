package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/gtidstate/cfg"
	"github.com/maxpert/gtidstate/gtid"
	"github.com/maxpert/gtidstate/state"
	"github.com/maxpert/gtidstate/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *state.BinlogState, *state.SlaveState) {
	t.Helper()

	st, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bs := state.NewBinlogState()
	ss := state.NewSlaveState(st)
	w := state.NewWaiting(ss)

	mux := http.NewServeMux()
	RegisterRoutes(mux, NewAdminHandlers(bs, ss, w, st))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, bs, ss
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestBinlogEndpoint(t *testing.T) {
	srv, bs, _ := newTestServer(t)
	require.NoError(t, bs.Update(gtid.GTID{DomainID: 0, ServerID: 1, SeqNo: 10}, false))
	require.NoError(t, bs.Update(gtid.GTID{DomainID: 0, ServerID: 2, SeqNo: 20}, false))

	status, body := getJSON(t, srv.URL+"/admin/binlog")
	require.Equal(t, http.StatusOK, status)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "0-2-20", data["gtid_binlog_pos"])
	assert.Equal(t, "0-1-10,0-2-20", data["gtid_binlog_state"])
	assert.Equal(t, float64(2), data["entries"])
}

func TestSlaveEndpoint(t *testing.T) {
	srv, _, ss := newTestServer(t)
	require.NoError(t, ss.Load("0-1-100,1-2-5", false))

	status, body := getJSON(t, srv.URL+"/admin/slave")
	require.Equal(t, http.StatusOK, status)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "0-1-100,1-2-5", data["gtid_slave_pos"])
}

func TestDomainEndpoint(t *testing.T) {
	srv, _, ss := newTestServer(t)
	require.NoError(t, ss.Load("3-1-7", false))

	status, body := getJSON(t, srv.URL+"/admin/domain?domain_id=3")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "3-1-7", data["gtid"])
	assert.Equal(t, float64(7), data["highest_seq_no"])

	status, body = getJSON(t, srv.URL+"/admin/domain?domain_id=9")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "no position")

	status, _ = getJSON(t, srv.URL+"/admin/domain")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = getJSON(t, srv.URL+"/admin/domain?domain_id=abc")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWaitersEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/admin/waiters")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["blocked_waiters"])
}

func TestStoreEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/admin/store")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["position_rows"])
}

func TestAuthMiddleware(t *testing.T) {
	originalSecret := cfg.Config.Admin.Secret
	defer func() { cfg.Config.Admin.Secret = originalSecret }()
	cfg.Config.Admin.Secret = "hunter2"

	srv, _, _ := newTestServer(t)

	// No credentials.
	resp, err := http.Get(srv.URL + "/admin/binlog")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong token.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/binlog", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct token.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/admin/binlog", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
