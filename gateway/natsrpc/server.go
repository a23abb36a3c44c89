package natsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/natsclient"
	"github.com/guarzo/eveDMV-sub012/pipeline"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Service is the part of the pipeline the transport calls.
type Service interface {
	Analyze(ctx context.Context, req pipeline.Request) (*types.Report, error)
	ExecuteBatch(ctx context.Context, domain types.Domain, ids []int64, opts pipeline.Options) (map[int64]pipeline.BatchResult, error)
}

// Subscriber registers queue-group handlers; *natsclient.Client satisfies it.
type Subscriber interface {
	QueueSubscribe(ctx context.Context, subject, queue string, handler natsclient.MsgHandler) error
}

// Server exposes a Service over NATS request/reply.
type Server struct {
	cfg     Config
	svc     Service
	logger  *slog.Logger
	metrics *metric.Metrics
	limiter *rate.Limiter // nil when unlimited

	running  atomic.Bool
	handled  atomic.Uint64
	failures atomic.Uint64
}

// NewServer creates a server. metrics may be nil.
func NewServer(cfg Config, svc Service, logger *slog.Logger, metrics *metric.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer", "service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		logger:  logger.With("component", "natsrpc"),
		metrics: metrics,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return s, nil
}

// Start subscribes the analyze and batch subjects of every domain.
func (s *Server) Start(ctx context.Context, sub Subscriber) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}

	for _, domain := range types.Domains() {
		subjects := []struct {
			subject string
			handle  natsclient.MsgHandler
		}{
			{s.cfg.AnalyzeSubject(string(domain)), s.handleAnalyze},
			{s.cfg.BatchSubject(string(domain)), s.handleBatch},
		}
		for _, sj := range subjects {
			if err := sub.QueueSubscribe(ctx, sj.subject, s.cfg.QueueGroup, sj.handle); err != nil {
				s.running.Store(false)
				return errors.Wrap(err, "Server", "Start", "subscribe "+sj.subject)
			}
		}
	}

	s.logger.Info("Request/reply service started",
		"prefix", s.cfg.Prefix,
		"queue_group", s.cfg.QueueGroup,
		"domains", len(types.Domains()))
	return nil
}

// Running reports whether Start succeeded.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Handled returns how many messages were answered and how many of those were errors.
func (s *Server) Handled() (total, failed uint64) {
	return s.handled.Load(), s.failures.Load()
}

func (s *Server) handleAnalyze(ctx context.Context, msg *nats.Msg) {
	s.reply(msg, s.Analyze(ctx, msg.Subject, msg.Data))
}

func (s *Server) handleBatch(ctx context.Context, msg *nats.Msg) {
	s.reply(msg, s.Batch(ctx, msg.Subject, msg.Data))
}

func (s *Server) reply(msg *nats.Msg, body []byte) {
	if msg.Reply == "" {
		s.logger.Debug("Dropping response to message without reply subject", "subject", msg.Subject)
		return
	}
	if err := msg.Respond(body); err != nil {
		s.logger.Warn("Failed to send reply", "subject", msg.Subject, "error", err)
	}
}

// Analyze handles one analyze message and returns the encoded response.
func (s *Server) Analyze(ctx context.Context, subject string, data []byte) []byte {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var resp AnalyzeResponse
	domain, req, err := s.decode(subject, "analyze", data)
	if err == nil {
		err = s.admit(ctx, "Analyze")
	}
	if err == nil {
		var opts pipeline.Options
		if opts, err = req.options(); err == nil {
			resp.Report, err = s.svc.Analyze(ctx, pipeline.Request{Domain: domain, EntityIDs: req.ids(), Options: opts})
		}
	}
	resp.Error = errorBody(err)
	s.record("analyze", err, start)
	return s.encode(resp)
}

// Batch handles one batch message and returns the encoded response.
func (s *Server) Batch(ctx context.Context, subject string, data []byte) []byte {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var resp BatchResponse
	domain, req, err := s.decode(subject, "batch", data)
	if err == nil && len(req.ids()) > s.cfg.MaxBatchSize {
		err = errors.WrapInvalid(errors.ErrInvalidData, "Server", "Batch",
			fmt.Sprintf("%d entity ids exceed the limit of %d", len(req.ids()), s.cfg.MaxBatchSize))
	}
	if err == nil {
		err = s.admit(ctx, "Batch")
	}
	if err == nil {
		var opts pipeline.Options
		var results map[int64]pipeline.BatchResult
		if opts, err = req.options(); err == nil {
			results, err = s.svc.ExecuteBatch(ctx, domain, req.ids(), opts)
		}
		if err == nil {
			resp.Results = make(map[int64]EntityResult, len(results))
			for id, r := range results {
				resp.Results[id] = EntityResult{Report: r.Report, Error: errorBody(r.Err)}
			}
		}
	}
	resp.Error = errorBody(err)
	s.record("batch", err, start)
	return s.encode(resp)
}

// admit waits for a rate limit token. It fails at once when the wait would
// outlast the request deadline.
func (s *Server) admit(ctx context.Context, method string) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.New(errors.ErrTimeout, errors.ErrorTransient, "Server", method,
			"rate limit: "+err.Error())
	}
	return nil
}

// decode extracts the domain from the last subject token and parses the body.
func (s *Server) decode(subject, op string, data []byte) (types.Domain, Request, error) {
	var req Request

	prefix := s.cfg.Prefix + "." + op + "."
	if !strings.HasPrefix(subject, prefix) {
		return "", req, errors.WrapInvalid(errors.ErrInvalidData, "Server", "decode",
			fmt.Sprintf("unexpected subject %q", subject))
	}
	domain, err := types.ParseDomain(strings.TrimPrefix(subject, prefix))
	if err != nil {
		return "", req, err
	}

	if len(data) > s.cfg.MaxRequestSize {
		return "", req, errors.WrapInvalid(errors.ErrInvalidData, "Server", "decode",
			fmt.Sprintf("request of %d bytes exceeds the limit of %d", len(data), s.cfg.MaxRequestSize))
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", req, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
				"Server", "decode", "parse request body")
		}
	}
	return domain, req, nil
}

func (s *Server) encode(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", "error", err)
		body, _ = json.Marshal(AnalyzeResponse{Error: &ErrorBody{
			Code:    string(errors.CodeUnknown),
			Message: "response encoding failed",
		}})
	}
	return body
}

func (s *Server) record(op string, err error, start time.Time) {
	s.handled.Add(1)
	code := "ok"
	if err != nil {
		s.failures.Add(1)
		code = string(errors.CodeOf(err))
		s.logger.Debug("Request failed", "operation", op, "code", code, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordRequest(op, code, time.Since(start))
	}
}
