// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"time"
)

// Metrics returns a roll-up of the agent's in-memory metrics for the
// current interval.
func (a *Agent) Metrics() (*MetricsSummary, error) {
	var resp MetricsSummary
	if err := a.client.query("/v1/metrics", &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MetricsSummary holds a roll-up of metrics info for a given interval.
type MetricsSummary struct {
	Timestamp string
	Gauges    []GaugeValue
	Points    []PointValue
	Counters  []SampledValue
	Samples   []SampledValue
}

// GaugeValue stores one value that is updated as time goes on, such as
// the number of registered sessions.
type GaugeValue struct {
	Name  string
	Hash  string `json:"-"`
	Value float32

	Labels map[string]string `json:"Labels"`
}

// PointValue holds a series of points for a metric.
type PointValue struct {
	Name   string
	Points []float32
}

// SampledValue stores info about a metric that is incremented over time,
// such as the number of requests to an HTTP endpoint.
type SampledValue struct {
	Name string
	Hash string `json:"-"`
	*AggregateSample
	Mean   float64
	Stddev float64

	Labels map[string]string `json:"Labels"`
}

// AggregateSample is used to hold aggregate metrics about a sample.
type AggregateSample struct {
	Count       int
	Rate        float64
	Sum         float64
	SumSq       float64   `json:"-"`
	Min         float64
	Max         float64
	LastUpdated time.Time `json:"-"`
}
