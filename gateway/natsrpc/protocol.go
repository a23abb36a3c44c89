package natsrpc

import (
	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/pipeline"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Request is the JSON body of both analyze and batch messages. EntityIDs wins
// over EntityID when both are set.
type Request struct {
	EntityID    int64    `json:"entity_id,omitempty"`
	EntityIDs   []int64  `json:"entity_ids,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	Plugins     []string `json:"plugins,omitempty"`
	Parallel    *bool    `json:"parallel,omitempty"`
	BypassCache bool     `json:"bypass_cache,omitempty"`
}

func (r Request) ids() []int64 {
	if len(r.EntityIDs) > 0 {
		return r.EntityIDs
	}
	if r.EntityID != 0 {
		return []int64{r.EntityID}
	}
	return nil
}

func (r Request) options() (pipeline.Options, error) {
	scope, err := types.ParseScope(r.Scope)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Scope:       scope,
		Plugins:     r.Plugins,
		Parallel:    r.Parallel,
		BypassCache: r.BypassCache,
	}, nil
}

// ErrorBody is the caller-visible form of a failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	return &ErrorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}
}

// AnalyzeResponse answers an analyze message.
type AnalyzeResponse struct {
	Report *types.Report `json:"report,omitempty"`
	Error  *ErrorBody    `json:"error,omitempty"`
}

// EntityResult is one entry of a batch response.
type EntityResult struct {
	Report *types.Report `json:"report,omitempty"`
	Error  *ErrorBody    `json:"error,omitempty"`
}

// BatchResponse answers a batch message.
type BatchResponse struct {
	Results map[int64]EntityResult `json:"results,omitempty"`
	Error   *ErrorBody             `json:"error,omitempty"`
}
