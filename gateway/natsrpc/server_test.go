package natsrpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/eveDMV-sub012/analyzer"
	"github.com/guarzo/eveDMV-sub012/analyzer/combatstats"
	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/gather"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/natsclient"
	"github.com/guarzo/eveDMV-sub012/pipeline"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

type fakeService struct {
	lastReq   pipeline.Request
	lastOpts  pipeline.Options
	lastIDs   []int64
	report    *types.Report
	batch     map[int64]pipeline.BatchResult
	err       error
	batchErr  error
	callCount int
}

func (f *fakeService) Analyze(_ context.Context, req pipeline.Request) (*types.Report, error) {
	f.callCount++
	f.lastReq = req
	return f.report, f.err
}

func (f *fakeService) ExecuteBatch(_ context.Context, _ types.Domain, ids []int64, opts pipeline.Options) (map[int64]pipeline.BatchResult, error) {
	f.callCount++
	f.lastIDs = ids
	f.lastOpts = opts
	return f.batch, f.batchErr
}

type recordingSubscriber struct {
	subjects []string
	queues   []string
	failOn   string
}

func (r *recordingSubscriber) QueueSubscribe(_ context.Context, subject, queue string, _ natsclient.MsgHandler) error {
	if subject == r.failOn {
		return stderrors.New("permission denied")
	}
	r.subjects = append(r.subjects, subject)
	r.queues = append(r.queues, queue)
	return nil
}

func newServer(t *testing.T, svc Service, metrics *metric.Metrics) *Server {
	t.Helper()
	s, err := NewServer(DefaultConfig(), svc, nil, metrics)
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.Prefix = "" }},
		{"wildcard prefix", func(c *Config) { c.Prefix = "intel.*" }},
		{"empty queue", func(c *Config) { c.QueueGroup = "" }},
		{"zero request size", func(c *Config) { c.MaxRequestSize = 0 }},
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }},
		{"tiny timeout", func(c *Config) { c.RequestTimeout = time.Millisecond }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"rate without burst", func(c *Config) { c.RateLimit = 10; c.RateBurst = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)
		})
	}
}

func TestConfigUnmarshalJSON(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, json.Unmarshal([]byte(`{"prefix":"eve","request_timeout":"15s"}`), &cfg))
	assert.Equal(t, "eve", cfg.Prefix)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "inteld", cfg.QueueGroup)
	assert.Equal(t, "eve.analyze.fleet", cfg.AnalyzeSubject("fleet"))
	assert.Equal(t, "eve.batch.fleet", cfg.BatchSubject("fleet"))
}

func TestNewServerRequiresService(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil, nil, nil)
	assert.True(t, errors.IsFatal(err))
}

func TestStartSubscribesEveryDomain(t *testing.T) {
	s := newServer(t, &fakeService{}, nil)
	sub := &recordingSubscriber{}
	require.NoError(t, s.Start(context.Background(), sub))
	assert.True(t, s.Running())

	sort.Strings(sub.subjects)
	assert.Len(t, sub.subjects, 2*len(types.Domains()))
	assert.Contains(t, sub.subjects, "intel.analyze.character")
	assert.Contains(t, sub.subjects, "intel.batch.threat")
	for _, q := range sub.queues {
		assert.Equal(t, "inteld", q)
	}

	err := s.Start(context.Background(), sub)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestStartSubscribeFailure(t *testing.T) {
	s := newServer(t, &fakeService{}, nil)
	err := s.Start(context.Background(), &recordingSubscriber{failOn: "intel.batch.corporation"})
	require.Error(t, err)
	assert.False(t, s.Running())
}

func TestAnalyzeTranslatesRequest(t *testing.T) {
	svc := &fakeService{report: &types.Report{Domain: types.DomainFleet, EntityID: 7}}
	s := newServer(t, svc, nil)

	body := s.Analyze(context.Background(), "intel.analyze.fleet",
		[]byte(`{"entity_id":7,"scope":"FULL","plugins":["combat-stats"],"parallel":false,"bypass_cache":true}`))

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Report)
	assert.Equal(t, int64(7), resp.Report.EntityID)

	assert.Equal(t, types.DomainFleet, svc.lastReq.Domain)
	assert.Equal(t, []int64{7}, svc.lastReq.EntityIDs)
	assert.Equal(t, types.ScopeFull, svc.lastReq.Options.Scope)
	assert.Equal(t, []string{"combat-stats"}, svc.lastReq.Options.Plugins)
	require.NotNil(t, svc.lastReq.Options.Parallel)
	assert.False(t, *svc.lastReq.Options.Parallel)
	assert.True(t, svc.lastReq.Options.BypassCache)
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		svcErr  error
		code    errors.Code
	}{
		{"unknown domain", "intel.analyze.alliance", `{"entity_id":1}`, nil, errors.CodeInvalidDomain},
		{"foreign subject", "other.analyze.character", `{"entity_id":1}`, nil, errors.CodeInvalidRequest},
		{"malformed json", "intel.analyze.character", `{"entity_id":`, nil, errors.CodeInvalidRequest},
		{"bad scope", "intel.analyze.character", `{"entity_id":1,"scope":"deep"}`, nil, errors.CodeInvalidScope},
		{"pipeline failure", "intel.analyze.character", `{"entity_id":1}`,
			errors.New(errors.ErrDataGathering, errors.ErrorTransient, "pipeline", "gather", "db down"),
			errors.CodeDataGatheringFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := metric.NewMetrics()
			s := newServer(t, &fakeService{err: tt.svcErr}, metrics)

			var resp AnalyzeResponse
			require.NoError(t, json.Unmarshal(s.Analyze(context.Background(), tt.subject, []byte(tt.body)), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
			assert.Nil(t, resp.Report)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("analyze", string(tt.code))))
		})
	}
}

func TestRateLimitRejectsWhenWaitOutlastsTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.1 // one token every ten seconds
	cfg.RateBurst = 1
	cfg.RequestTimeout = 200 * time.Millisecond
	svc := &fakeService{report: &types.Report{Domain: types.DomainCharacter, EntityID: 1}}
	metrics := metric.NewMetrics()
	s, err := NewServer(cfg, svc, nil, metrics)
	require.NoError(t, err)

	var first, second AnalyzeResponse
	require.NoError(t, json.Unmarshal(s.Analyze(context.Background(), "intel.analyze.character", []byte(`{"entity_id":1}`)), &first))
	assert.Nil(t, first.Error)

	require.NoError(t, json.Unmarshal(s.Analyze(context.Background(), "intel.analyze.character", []byte(`{"entity_id":1}`)), &second))
	require.NotNil(t, second.Error)
	assert.Equal(t, string(errors.CodeTimeout), second.Error.Code)
	assert.Equal(t, 1, svc.callCount, "throttled request never reaches the pipeline")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("analyze", string(errors.CodeTimeout))))
}

func TestAnalyzeRejectsOversizedRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRequestSize = 16
	svc := &fakeService{}
	s, err := NewServer(cfg, svc, nil, nil)
	require.NoError(t, err)

	var resp AnalyzeResponse
	body := `{"entity_ids":[` + strings.Repeat("1,", 20) + `1]}`
	require.NoError(t, json.Unmarshal(s.Analyze(context.Background(), "intel.analyze.character", []byte(body)), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(errors.CodeInvalidRequest), resp.Error.Code)
	assert.Zero(t, svc.callCount)
}

func TestBatchTranslatesResults(t *testing.T) {
	svc := &fakeService{batch: map[int64]pipeline.BatchResult{
		1: {Report: &types.Report{EntityID: 1}},
		2: {Err: errors.New(errors.ErrTimeout, errors.ErrorTransient, "pipeline", "ExecuteBatch", "slow")},
	}}
	metrics := metric.NewMetrics()
	s := newServer(t, svc, metrics)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(s.Batch(context.Background(), "intel.batch.character",
		[]byte(`{"entity_ids":[1,2]}`)), &resp))
	require.Nil(t, resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, int64(1), resp.Results[1].Report.EntityID)
	assert.Nil(t, resp.Results[1].Error)
	assert.Equal(t, string(errors.CodeTimeout), resp.Results[2].Error.Code)
	assert.Equal(t, []int64{1, 2}, svc.lastIDs)
	assert.Equal(t, types.DefaultScope, svc.lastOpts.Scope)

	total, failed := s.Handled()
	assert.Equal(t, uint64(1), total)
	assert.Zero(t, failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("batch", "ok")))
}

func TestBatchLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 2
	svc := &fakeService{}
	s, err := NewServer(cfg, svc, nil, nil)
	require.NoError(t, err)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(s.Batch(context.Background(), "intel.batch.character",
		[]byte(`{"entity_ids":[1,2,3]}`)), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(errors.CodeInvalidRequest), resp.Error.Code)
	assert.Zero(t, svc.callCount)

	_, failed := s.Handled()
	assert.Equal(t, uint64(1), failed)
}

func TestBatchTopLevelError(t *testing.T) {
	svc := &fakeService{batchErr: errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid, "pipeline", "validate", "-1")}
	s := newServer(t, svc, nil)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(s.Batch(context.Background(), "intel.batch.character",
		[]byte(`{"entity_ids":[-1]}`)), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(errors.CodeInvalidEntityID), resp.Error.Code)
	assert.Nil(t, resp.Results)
}

func TestAnalyzeAgainstPipeline(t *testing.T) {
	registry := plugin.NewRegistry()
	require.NoError(t, analyzer.Register(registry, analyzer.Config{TopShips: 3}))
	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Dependencies{Registry: registry})
	require.NoError(t, err)
	require.NoError(t, p.RegisterGatherer(types.DomainCharacter,
		gather.NewStatic(types.EntityStats{EntityID: 42, TotalKills: 10, TotalLosses: 2})))

	s := newServer(t, p, nil)

	var resp struct {
		Report struct {
			EntityID int64 `json:"entity_id"`
			Analysis map[string]struct {
				BasicStats combatstats.BasicStats `json:"basic_stats"`
			} `json:"analysis"`
		} `json:"report"`
		Error *ErrorBody `json:"error"`
	}
	body := s.Analyze(context.Background(), "intel.analyze.character",
		[]byte(`{"entity_id":42,"plugins":["combat-stats"]}`))
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Nil(t, resp.Error)
	assert.Equal(t, int64(42), resp.Report.EntityID)
	assert.InDelta(t, 5.0, resp.Report.Analysis[combatstats.Name].BasicStats.KillDeathRatio, 1e-9)
}
