// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/muster/ci"
	"github.com/hashicorp/muster/structs"
	"github.com/hashicorp/muster/testutil"
	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"
)

// testSessionSpec returns a minimal valid spec for the given number of
// expected workers.
func testSessionSpec(expected int) *structs.SessionSpec {
	return &structs.SessionSpec{
		Name:            "endpoint-test",
		Target:          "login.example.com:443",
		ExpectedWorkers: expected,
	}
}

// createTestSession registers a session through the manager and blocks until
// its runner is live, so the gate is registered before the test goes on.
func createTestSession(t testing.TB, s *TestAgent, spec *structs.SessionSpec) *structs.Session {
	sess, err := s.Agent.Sessions().CreateSession(spec)
	must.NoError(t, err)

	testutil.WaitForResult(func() (bool, error) {
		cur, err := s.Agent.Sessions().Session(sess.ID)
		if err != nil {
			return false, err
		}
		if cur.Status != structs.SessionStatusRunning {
			return false, fmt.Errorf("status is %s", cur.Status)
		}
		return true, nil
	}, func(err error) {
		t.Fatalf("session never started: %v", err)
	})

	return sess
}

func TestHTTP_SessionsList(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		createTestSession(t, s, testSessionSpec(3))
		createTestSession(t, s, testSessionSpec(5))

		req, err := http.NewRequest(http.MethodGet, "/v1/sessions", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionsRequest(respW, req)
		require.NoError(t, err)

		list := obj.([]*structs.SessionListStub)
		require.Len(t, list, 2)
		must.LessEq(t, list[1].CreateTime, list[0].CreateTime)
		for _, stub := range list {
			must.Eq(t, structs.SessionStatusRunning, stub.Status)
		}
	})
}

func TestHTTP_SessionsList_Blank(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		req, err := http.NewRequest(http.MethodGet, "/v1/sessions", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionsRequest(respW, req)
		require.NoError(t, err)
		require.Empty(t, obj.([]*structs.SessionListStub))
	})
}

func TestHTTP_SessionCreate(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		buf, err := json.Marshal(testSessionSpec(10))
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPut, "/v1/sessions", bytes.NewReader(buf))
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionsRequest(respW, req)
		require.NoError(t, err)

		sess := obj.(*structs.Session)
		must.NotEq(t, "", sess.ID)
		must.Eq(t, "endpoint-test", sess.Name)
		must.Eq(t, 10, sess.ExpectedWorkers)

		// The gate registers as part of session start. 60% of 10 workers.
		testutil.WaitForResult(func() (bool, error) {
			cur, err := s.Agent.Sessions().Session(sess.ID)
			if err != nil {
				return false, err
			}
			if !cur.Gate.Enabled {
				return false, fmt.Errorf("gate not registered yet")
			}
			if cur.Gate.Required != 6 {
				return false, fmt.Errorf("required is %d", cur.Gate.Required)
			}
			return true, nil
		}, func(err error) {
			t.Fatalf("bad gate status: %v", err)
		})
	})
}

func TestHTTP_SessionCreate_Invalid(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		spec := testSessionSpec(1)
		spec.Target = "missing-a-port"
		buf, err := json.Marshal(spec)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPut, "/v1/sessions", bytes.NewReader(buf))
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionsRequest(respW, req)
		must.Nil(t, obj)

		coded, ok := err.(HTTPCodedError)
		must.True(t, ok)
		must.Eq(t, 400, coded.Code())
	})
}

func TestHTTP_SessionCreate_Exists(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(2))

		spec := testSessionSpec(2)
		spec.ID = sess.ID
		buf, err := json.Marshal(spec)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(buf))
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		_, err = s.Server.SessionsRequest(respW, req)
		require.Error(t, err)
		require.True(t, structs.IsErrSessionExists(err))
	})
}

func TestHTTP_SessionQuery(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(4))

		req, err := http.NewRequest(http.MethodGet, "/v1/session/"+sess.ID, nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		got := obj.(*structs.Session)
		must.Eq(t, sess.ID, got.ID)
		must.Eq(t, structs.SessionStatusRunning, got.Status)
		must.NotNil(t, got.Gate)
		must.NotNil(t, got.Pools)
	})
}

func TestHTTP_SessionQuery_NotFound(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		req, err := http.NewRequest(http.MethodGet, "/v1/session/does-not-exist", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		_, err = s.Server.SessionSpecificRequest(respW, req)
		require.Error(t, err)
		require.True(t, structs.IsErrSessionNotFound(err))
	})
}

func TestHTTP_SessionEnd(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(4))

		req, err := http.NewRequest(http.MethodDelete, "/v1/session/"+sess.ID, nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		got := obj.(*structs.Session)
		must.Eq(t, structs.SessionStatusComplete, got.Status)

		// Ending again reports not found
		respW = httptest.NewRecorder()
		_, err = s.Server.SessionSpecificRequest(respW, req)
		require.Error(t, err)
		require.True(t, structs.IsErrSessionNotFound(err))
	})
}

func TestHTTP_SessionGateStatus(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		spec := testSessionSpec(10)
		sess := createTestSession(t, s, spec)

		req, err := http.NewRequest(http.MethodGet, "/v1/session/"+sess.ID+"/gate", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		status := obj.(*structs.GateStatus)
		must.True(t, status.Enabled)
		must.False(t, status.Open)
		must.Eq(t, 10, status.Expected)
		must.Eq(t, 6, status.Required)
		must.Zero(t, status.ReadyCount)
	})
}

func TestHTTP_SessionGateStatus_UnknownSession(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		// Sessions without a gate are never blocked.
		req, err := http.NewRequest(http.MethodGet, "/v1/session/nope/gate", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		status := obj.(*structs.GateStatus)
		must.False(t, status.Enabled)
		must.True(t, status.Open)
	})
}

func TestHTTP_SessionGateWait_UnknownSession(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		start := time.Now()

		req, err := http.NewRequest(http.MethodGet, "/v1/session/nope/gate/wait?timeout=10s", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		// Returns immediately: no gate means nothing blocks.
		resp := obj.(*structs.GateWaitResponse)
		must.True(t, resp.Released)
		must.True(t, resp.Open)
		must.Less(t, 5*time.Second, time.Since(start))
	})
}

func TestHTTP_SessionGateWait_Timeout(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(10))

		req, err := http.NewRequest(http.MethodGet,
			"/v1/session/"+sess.ID+"/gate/wait?timeout=50ms&worker=w1", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		resp := obj.(*structs.GateWaitResponse)
		must.False(t, resp.Released)
		must.False(t, resp.Open)
	})
}

func TestHTTP_SessionGateWait_InvalidTimeout(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		req, err := http.NewRequest(http.MethodGet, "/v1/session/nope/gate/wait?timeout=never", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		_, err = s.Server.SessionSpecificRequest(respW, req)
		require.Error(t, err)

		coded, ok := err.(HTTPCodedError)
		require.True(t, ok)
		require.Equal(t, 400, coded.Code())
	})
}

func TestHTTP_SessionGateWait_Released(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		spec := testSessionSpec(5)
		sess := createTestSession(t, s, spec)

		// Open the gate from a second goroutine while the request blocks.
		errCh := make(chan error, 1)
		go func() {
			defer close(errCh)
			for i := 0; i < 3; i++ {
				path := fmt.Sprintf("/v1/session/%s/worker/w%d/ready", sess.ID, i)
				req, err := http.NewRequest(http.MethodPut, path, nil)
				if err != nil {
					errCh <- err
					return
				}
				if _, err := s.Server.SessionSpecificRequest(httptest.NewRecorder(), req); err != nil {
					errCh <- err
					return
				}
			}
		}()

		req, err := http.NewRequest(http.MethodGet,
			"/v1/session/"+sess.ID+"/gate/wait?timeout=10s", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)
		require.NoError(t, <-errCh)

		// ceil(5*60/100) = 3 ready workers release the gate
		resp := obj.(*structs.GateWaitResponse)
		must.True(t, resp.Released)
		must.True(t, resp.Open)
		must.Eq(t, 3, resp.ReadyCount)
	})
}

func TestHTTP_SessionWorkerReady(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(3))

		// First report marks the worker ready but does not open the gate.
		req, err := http.NewRequest(http.MethodPut,
			"/v1/session/"+sess.ID+"/worker/w1/ready", nil)
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		resp := obj.(*structs.WorkerReadyResponse)
		must.True(t, resp.Ready)
		must.False(t, resp.Transitioned)
		must.Eq(t, 1, resp.ReadyCount)
		must.Eq(t, 2, resp.Required)
		must.False(t, resp.GateOpen)

		// Reporting again is idempotent.
		respW = httptest.NewRecorder()
		obj, err = s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)
		resp = obj.(*structs.WorkerReadyResponse)
		must.True(t, resp.Ready)
		must.Eq(t, 1, resp.ReadyCount)

		// The second worker trips the ceil(3*60/100) = 2 threshold.
		req, err = http.NewRequest(http.MethodPut,
			"/v1/session/"+sess.ID+"/worker/w2/ready", nil)
		require.NoError(t, err)
		respW = httptest.NewRecorder()
		obj, err = s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		resp = obj.(*structs.WorkerReadyResponse)
		must.True(t, resp.Transitioned)
		must.True(t, resp.GateOpen)
		must.Eq(t, 2, resp.ReadyCount)
	})
}

func TestHTTP_SessionWorkerReady_Query(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(3))

		get, err := http.NewRequest(http.MethodGet,
			"/v1/session/"+sess.ID+"/worker/w1/ready", nil)
		require.NoError(t, err)

		obj, err := s.Server.SessionSpecificRequest(httptest.NewRecorder(), get)
		require.NoError(t, err)
		must.False(t, obj.(*structs.WorkerReadyResponse).Ready)

		put, err := http.NewRequest(http.MethodPut,
			"/v1/session/"+sess.ID+"/worker/w1/ready", nil)
		require.NoError(t, err)
		_, err = s.Server.SessionSpecificRequest(httptest.NewRecorder(), put)
		require.NoError(t, err)

		obj, err = s.Server.SessionSpecificRequest(httptest.NewRecorder(), get)
		require.NoError(t, err)
		must.True(t, obj.(*structs.WorkerReadyResponse).Ready)
	})
}

func TestHTTP_SessionWorkerReady_UnknownSession(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		// Readiness reports without a session are accepted but don't record
		// anything.
		req, err := http.NewRequest(http.MethodPut, "/v1/session/nope/worker/w1/ready", nil)
		require.NoError(t, err)

		obj, err := s.Server.SessionSpecificRequest(httptest.NewRecorder(), req)
		require.NoError(t, err)

		resp := obj.(*structs.WorkerReadyResponse)
		must.False(t, resp.Transitioned)
		must.True(t, resp.GateOpen)
		must.Zero(t, resp.ReadyCount)
	})
}

func TestHTTP_SessionWorkerDisconnect(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		spec := testSessionSpec(2)
		spec.Accounts = []string{"acct-1", "acct-2"}
		sess := createTestSession(t, s, spec)

		args := structs.WorkerDisconnectRequest{
			Account: "acct-1",
			Message: "You are banned from this server",
		}
		buf, err := json.Marshal(args)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost,
			"/v1/session/"+sess.ID+"/worker/w1/disconnect", bytes.NewReader(buf))
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		obj, err := s.Server.SessionSpecificRequest(respW, req)
		require.NoError(t, err)

		resp := obj.(*structs.WorkerDisconnectResponse)
		must.Eq(t, sess.ID, resp.SessionID)
		must.Eq(t, "w1", resp.WorkerID)
		must.True(t, resp.Accepted)
	})
}

func TestHTTP_SessionWorkerDisconnect_UnknownSession(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		buf, err := json.Marshal(structs.WorkerDisconnectRequest{Message: "kicked"})
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost,
			"/v1/session/nope/worker/w1/disconnect", bytes.NewReader(buf))
		require.NoError(t, err)
		respW := httptest.NewRecorder()

		_, err = s.Server.SessionSpecificRequest(respW, req)
		require.Error(t, err)
		require.True(t, structs.IsErrSessionNotFound(err))
	})
}

func TestHTTP_SessionEndpoint_InvalidMethods(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		cases := []struct {
			method string
			path   string
		}{
			{http.MethodDelete, "/v1/sessions"},
			{http.MethodPost, "/v1/session/abc"},
			{http.MethodPut, "/v1/session/abc/gate"},
			{http.MethodPost, "/v1/session/abc/gate/wait"},
			{http.MethodDelete, "/v1/session/abc/worker/w1/ready"},
			{http.MethodGet, "/v1/session/abc/worker/w1/disconnect"},
		}

		for _, tc := range cases {
			req, err := http.NewRequest(tc.method, tc.path, nil)
			require.NoError(t, err)
			respW := httptest.NewRecorder()

			var obj interface{}
			if tc.path == "/v1/sessions" {
				obj, err = s.Server.SessionsRequest(respW, req)
			} else {
				obj, err = s.Server.SessionSpecificRequest(respW, req)
			}
			must.Nil(t, obj)

			coded, ok := err.(HTTPCodedError)
			must.True(t, ok)
			must.Eq(t, 405, coded.Code())
		}
	})
}

// Workers driving the full HTTP stack: five workers at sixty percent, three
// report ready, everyone blocked on the gate comes through.
func TestHTTP_SessionGate_EndToEnd(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		sess := createTestSession(t, s, testSessionSpec(5))

		// Fresh transport so the held gate waits do not share connection
		// state with other parallel tests.
		client := cleanhttp.DefaultClient()

		results := make(chan bool, 5)
		for i := 0; i < 5; i++ {
			go func(n int) {
				url := fmt.Sprintf("%s/v1/session/%s/gate/wait?timeout=10s&worker=w%d",
					s.HTTPAddr(), sess.ID, n)
				resp, err := client.Get(url)
				if err != nil {
					results <- false
					return
				}
				defer resp.Body.Close()

				var out structs.GateWaitResponse
				if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
					results <- false
					return
				}
				results <- out.Released
			}(i)
		}

		// Let the waiters queue up, then push three workers over the line.
		time.Sleep(100 * time.Millisecond)
		for i := 0; i < 3; i++ {
			url := fmt.Sprintf("%s/v1/session/%s/worker/w%d/ready", s.HTTPAddr(), sess.ID, i)
			req, err := http.NewRequest(http.MethodPut, url, nil)
			require.NoError(t, err)
			resp, err := client.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
		}

		for i := 0; i < 5; i++ {
			select {
			case released := <-results:
				must.True(t, released)
			case <-time.After(10 * time.Second):
				t.Fatalf("timed out waiting for waiter %d", i)
			}
		}
	})
}
