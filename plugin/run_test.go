package plugin

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/types"
)

func TestRun_Success(t *testing.T) {
	p := newStub("ok")
	res := Run(context.Background(), "ok", p, Request{EntityIDs: []int64{1, 2}}, nil)

	require.True(t, res.OK())
	assert.Equal(t, "ok", res.Plugin)
	assert.Equal(t, map[string]int{"entities": 2}, res.Value)
	assert.GreaterOrEqual(t, res.Duration.Nanoseconds(), int64(0))
}

func TestRun_ConvertsFailures(t *testing.T) {
	tests := []struct {
		name    string
		analyze func(context.Context, Request) (any, error)
		code    errors.Code
	}{
		{
			name:    "returned error",
			analyze: func(context.Context, Request) (any, error) { return nil, stderrors.New("division by zero") },
			code:    errors.CodePluginException,
		},
		{
			name:    "panic",
			analyze: func(context.Context, Request) (any, error) { panic("index out of range") },
			code:    errors.CodePluginException,
		},
		{
			name:    "nil result",
			analyze: func(context.Context, Request) (any, error) { return nil, nil },
			code:    errors.CodePluginException,
		},
		{
			name: "missing entity",
			analyze: func(_ context.Context, req Request) (any, error) {
				return EntityData(req, 999)
			},
			code: errors.CodePluginException,
		},
		{
			name: "deadline",
			analyze: func(ctx context.Context, _ Request) (any, error) {
				ctx, cancel := context.WithTimeout(ctx, 0)
				defer cancel()
				<-ctx.Done()
				return nil, ctx.Err()
			},
			code: errors.CodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStub("faulty")
			p.analyze = tt.analyze

			var res Result
			require.NotPanics(t, func() {
				res = Run(context.Background(), "faulty", p, Request{Data: baseData()}, nil)
			})
			require.False(t, res.OK())
			assert.Nil(t, res.Value)
			assert.Equal(t, tt.code, errors.CodeOf(res.Err))
		})
	}
}

func TestEntityData(t *testing.T) {
	stats := types.EmptyStats(42)
	stats.TotalKills = 3
	req := Request{EntityIDs: []int64{42}, Data: baseData(stats)}

	got, err := EntityData(req, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalKills)

	_, err = EntityData(req, 7)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = EntityData(Request{}, 42)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err), "nil base data is a miss, not a panic")

	primary, err := PrimaryEntity(req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), primary.EntityID)

	_, err = PrimaryEntity(Request{})
	assert.Equal(t, errors.CodeInvalidEntityID, errors.CodeOf(err))
}

func TestInfoValidate(t *testing.T) {
	assert.NoError(t, Info{Name: "a", Version: "1", Description: "d"}.Validate())
	err := Info{Name: "a"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description")
}
