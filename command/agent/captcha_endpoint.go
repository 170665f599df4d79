// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/hashicorp/muster/captcha"
	"github.com/hashicorp/muster/structs"
	"github.com/hashicorp/muster/structs/config"
)

const captchaDisabledErr = "captcha caching is disabled"

func (s *HTTPServer) CaptchaRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if s.agent.Captcha() == nil {
		return nil, CodedError(501, captchaDisabledErr)
	}

	switch req.Method {
	case http.MethodPut, http.MethodPost:
		return s.captchaStore(resp, req)
	case http.MethodDelete:
		return s.captchaClear(resp, req)
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) captchaStore(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	var args structs.CaptchaStoreRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(400, err.Error())
	}
	if args.Target == "" {
		return nil, CodedError(400, "missing target")
	}
	if args.Answer == "" {
		return nil, CodedError(400, "missing answer")
	}

	fingerprint, err := s.captchaFingerprint(args.Fingerprint, args.Image)
	if err != nil {
		return nil, err
	}

	s.agent.Captcha().Store(args.Target, fingerprint, args.Answer)
	s.agent.PublishEvent(structs.TopicCaptcha, structs.TypeCaptchaStored, fingerprint,
		[]string{args.Target}, &structs.CaptchaEvent{Target: args.Target, Fingerprint: fingerprint})

	return &structs.CaptchaStoreResponse{
		Target:      args.Target,
		Fingerprint: fingerprint,
	}, nil
}

func (s *HTTPServer) CaptchaLookupRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if s.agent.Captcha() == nil {
		return nil, CodedError(501, captchaDisabledErr)
	}
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	var args structs.CaptchaLookupRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(400, err.Error())
	}
	if args.Target == "" {
		return nil, CodedError(400, "missing target")
	}

	fingerprint, err := s.captchaFingerprint(args.Fingerprint, args.Image)
	if err != nil {
		return nil, err
	}

	answer, found := s.agent.Captcha().Lookup(args.Target, fingerprint)
	return &structs.CaptchaLookupResponse{
		Target:      args.Target,
		Fingerprint: fingerprint,
		Answer:      answer,
		Found:       found,
	}, nil
}

func (s *HTTPServer) CaptchaStatsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if s.agent.Captcha() == nil {
		return nil, CodedError(501, captchaDisabledErr)
	}
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	cache := s.agent.Captcha()
	if target := req.URL.Query().Get("target"); target != "" {
		return cache.Stats(target), nil
	}

	targets := cache.Targets()
	out := &captchaStatsResponse{
		Total:   cache.TotalStats(),
		Targets: make([]*structs.CaptchaStats, 0, len(targets)),
	}
	for _, target := range targets {
		out.Targets = append(out.Targets, cache.Stats(target))
	}
	return out, nil
}

type captchaStatsResponse struct {
	Total   *structs.CaptchaStats   `json:"total"`
	Targets []*structs.CaptchaStats `json:"targets"`
}

func (s *HTTPServer) captchaClear(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if target := req.URL.Query().Get("target"); target != "" {
		s.agent.Captcha().ClearTarget(target)
		return nil, nil
	}
	s.agent.Captcha().ClearAll()
	return nil, nil
}

// captchaFingerprint resolves the fingerprint for a request, deriving it
// from the image bytes with the configured hash method when the caller did
// not supply one.
func (s *HTTPServer) captchaFingerprint(fingerprint string, image []byte) (string, error) {
	if fingerprint != "" {
		return fingerprint, nil
	}
	if len(image) == 0 {
		return "", CodedError(400, "missing image or fingerprint")
	}

	method := config.CaptchaHashMethodAverage
	if c := s.agent.GetConfig().Captcha; c != nil && c.HashMethod != nil {
		method = *c.HashMethod
	}

	fp, err := captcha.HashFor(method, image)
	if err != nil {
		return "", CodedError(400, err.Error())
	}
	return fp, nil
}
