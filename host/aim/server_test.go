package aim

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/alert", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostAlert(t *testing.T) {
	a, pan, _, trigger, _ := newTestAimer(false)
	h := a.Routes()

	rec := post(t, h, `{"weapon_type": "pistol", "weapon_center": [410, 200],
		"person_center": [0, 300], "button_state": true, "fire_command": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, Result{Pan: -255, Fired: true}, res)
	assert.Equal(t, []string{"drive -255"}, pan.calls)
	assert.Len(t, trigger.calls, 2)
}

func TestPostAlertErrors(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		motorErr error
		status   int
		message  string
	}{
		{"malformed json", `{"weapon_type":`, nil, http.StatusBadRequest, "unexpected EOF"},
		{"missing weapon", `{"person_center": [1, 1]}`, nil, http.StatusBadRequest, "weapon_type is required"},
		{"outside frame", `{"weapon_type": "knife", "person_center": [900, 1]}`, nil, http.StatusBadRequest, "outside frame"},
		{"firmware refuses", `{"weapon_type": "knife", "person_center": [1, 1]}`,
			errors.New("firmware is shut down"), http.StatusBadGateway, "pan: firmware is shut down"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, pan, _, _, _ := newTestAimer(false)
			pan.err = tc.motorErr

			rec := post(t, a.Routes(), tc.body)
			assert.Equal(t, tc.status, rec.Code)

			var body ErrResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Message, tc.message)
		})
	}
}

func TestGetStatus(t *testing.T) {
	a, _, _, _, _ := newTestAimer(false)
	_, err := a.Handle(&Alert{WeaponType: "knife", PersonCenter: Point{10, 10}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Tracking)
	assert.Zero(t, st.Fired)
}

func TestServeStopsWithContext(t *testing.T) {
	a, pan, _, _, _ := newTestAimer(false)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, addr) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Post("http://"+addr+"/alert", "application/json",
			strings.NewReader(`{"weapon_type": "knife", "person_center": [400, 300]}`))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// No further alerts: the watcher stops pan after the timeout
	require.Eventually(t, func() bool { return !a.Status().Tracking }, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, "stop", pan.calls[len(pan.calls)-1])
}
