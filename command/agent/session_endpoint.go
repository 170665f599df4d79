// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/muster/structs"
)

const (
	resourceNotFoundErr = "resource not found"
)

func (s *HTTPServer) SessionsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	switch req.Method {
	case http.MethodGet:
		return s.sessionList(resp, req)
	case http.MethodPut, http.MethodPost:
		return s.sessionCreate(resp, req)
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) sessionList(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	return s.agent.Sessions().ListSessions(), nil
}

func (s *HTTPServer) sessionCreate(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	var spec structs.SessionSpec
	if err := decodeBody(req, &spec); err != nil {
		return nil, CodedError(400, err.Error())
	}

	session, err := s.agent.Sessions().CreateSession(&spec)
	if err != nil {
		if structs.IsErrSessionExists(err) {
			return nil, err
		}
		return nil, CodedError(400, err.Error())
	}
	return session, nil
}

func (s *HTTPServer) SessionSpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	reqSuffix := strings.TrimPrefix(req.URL.Path, "/v1/session/")

	// tokenize the suffix of the path to get the session id and the action
	// invoked on it
	tokens := strings.Split(reqSuffix, "/")
	switch {
	case len(tokens) == 1:
		return s.sessionCRUD(resp, req, tokens[0])
	case len(tokens) == 2 && tokens[1] == "gate":
		return s.gateStatusRequest(resp, req, tokens[0])
	case len(tokens) == 3 && tokens[1] == "gate" && tokens[2] == "wait":
		return s.gateWaitRequest(resp, req, tokens[0])
	case len(tokens) == 4 && tokens[1] == "worker" && tokens[3] == "ready":
		return s.workerReadyRequest(resp, req, tokens[0], tokens[2])
	case len(tokens) == 4 && tokens[1] == "worker" && tokens[3] == "disconnect":
		return s.workerDisconnectRequest(resp, req, tokens[0], tokens[2])
	}
	return nil, CodedError(404, resourceNotFoundErr)
}

func (s *HTTPServer) sessionCRUD(resp http.ResponseWriter, req *http.Request, sessionID string) (interface{}, error) {
	if sessionID == "" {
		return nil, CodedError(400, "missing session id")
	}
	switch req.Method {
	case http.MethodGet:
		return s.sessionQuery(resp, req, sessionID)
	case http.MethodDelete:
		return s.sessionEnd(resp, req, sessionID)
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) sessionQuery(resp http.ResponseWriter, req *http.Request, sessionID string) (interface{}, error) {
	session, err := s.agent.Sessions().Session(sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *HTTPServer) sessionEnd(resp http.ResponseWriter, req *http.Request, sessionID string) (interface{}, error) {
	session, err := s.agent.Sessions().EndSession(sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *HTTPServer) gateStatusRequest(resp http.ResponseWriter, req *http.Request, sessionID string) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}
	if sessionID == "" {
		return nil, CodedError(400, "missing session id")
	}

	// The registry answers for unknown sessions too: no gate means nothing
	// blocks, which keeps the gate API permissive for workers that outlive
	// their session.
	return s.agent.Gates().Status(sessionID), nil
}

func (s *HTTPServer) gateWaitRequest(resp http.ResponseWriter, req *http.Request, sessionID string) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}
	if sessionID == "" {
		return nil, CodedError(400, "missing session id")
	}

	var timeout time.Duration
	if wait := req.URL.Query().Get("timeout"); wait != "" {
		dur, err := time.ParseDuration(wait)
		if err != nil {
			return nil, CodedError(400, "Invalid timeout")
		}
		timeout = dur
	}

	if worker := req.URL.Query().Get("worker"); worker != "" {
		s.logger.Debug("worker waiting on gate", "session_id", sessionID, "worker_id", worker)
	}

	if runner, ok := s.agent.Sessions().Runner(sessionID); ok {
		return runner.WaitGate(req.Context(), timeout), nil
	}

	gates := s.agent.Gates()
	released := gates.Wait(req.Context(), sessionID, timeout)
	return &structs.GateWaitResponse{
		SessionID:  sessionID,
		Released:   released,
		Open:       gates.IsOpen(sessionID),
		ReadyCount: gates.ReadyCount(sessionID),
	}, nil
}

func (s *HTTPServer) workerReadyRequest(resp http.ResponseWriter, req *http.Request, sessionID, workerID string) (interface{}, error) {
	if sessionID == "" || workerID == "" {
		return nil, CodedError(400, "missing session or worker id")
	}

	switch req.Method {
	case http.MethodGet:
		gates := s.agent.Gates()
		status := gates.Status(sessionID)
		return &structs.WorkerReadyResponse{
			SessionID:  sessionID,
			WorkerID:   workerID,
			Ready:      gates.IsReady(sessionID, workerID),
			ReadyCount: status.ReadyCount,
			Required:   status.Required,
			GateOpen:   status.Open,
		}, nil

	case http.MethodPut, http.MethodPost:
		// Go through the runner when the session is live so ready reports
		// publish worker events.
		if runner, ok := s.agent.Sessions().Runner(sessionID); ok {
			return runner.MarkWorkerReady(workerID), nil
		}

		gates := s.agent.Gates()
		transitioned := gates.MarkReady(sessionID, workerID)
		status := gates.Status(sessionID)
		return &structs.WorkerReadyResponse{
			SessionID:    sessionID,
			WorkerID:     workerID,
			Ready:        gates.IsReady(sessionID, workerID),
			Transitioned: transitioned,
			ReadyCount:   status.ReadyCount,
			Required:     status.Required,
			GateOpen:     status.Open,
		}, nil

	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) workerDisconnectRequest(resp http.ResponseWriter, req *http.Request, sessionID, workerID string) (interface{}, error) {
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		return nil, CodedError(405, ErrInvalidMethod)
	}
	if sessionID == "" || workerID == "" {
		return nil, CodedError(400, "missing session or worker id")
	}

	var args structs.WorkerDisconnectRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(400, err.Error())
	}

	runner, ok := s.agent.Sessions().Runner(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", structs.ErrSessionNotFound, sessionID)
	}

	accepted := runner.WorkerDisconnected(workerID, args.Account, args.Proxy, args.Message)
	return &structs.WorkerDisconnectResponse{
		SessionID: sessionID,
		WorkerID:  workerID,
		Accepted:  accepted,
	}, nil
}
