package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/store"
)

func TestAssert(t *testing.T) {
	assert.NoError(t, Assert(true, "unused"))

	err := Assert(false, "")
	require.Error(t, err)
	assert.Equal(t, DefaultAssertionMessage, err.Error())
	assert.Equal(t, "Post condition failed", err.Error())

	err = Assert(false, "expected %d rows", 5)
	assert.Equal(t, "expected 5 rows", err.Error())
	assert.True(t, IsAssertion(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"assertion", Assert(false, ""), KindAssertion},
		{"wrapped assertion", fmt.Errorf("work: %w", Assert(false, "")), KindAssertion},
		{"nested transaction", store.ErrNestedTransaction, KindConfiguration},
		{"schema error", &schema.ConfigError{Code: schema.ErrCodeUnknownType, Message: "x"}, KindConfiguration},
		{"engine error", &Error{Kind: KindCanceled}, KindCanceled},
		{"plain", errors.New("boom"), KindWork},
		{"panic", &PanicError{Value: "boom"}, KindWork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_Format(t *testing.T) {
	e := &Error{
		Kind:       KindWork,
		Message:    "boom",
		Producer:   "marker",
		RecordType: "record_1",
		RecordID:   "id-3",
	}
	assert.Equal(t, "WorkError: boom (producer=marker, record=record_1/id-3)", e.Error())

	e = &Error{Kind: KindCanceled, Message: "stopped"}
	assert.Equal(t, "Canceled: stopped", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := &Error{Kind: KindWork, Message: "x", Cause: cause}
	assert.ErrorIs(t, e, cause)
	assert.False(t, IsConfiguration(e))
	assert.True(t, IsConfiguration(&Error{Kind: KindConfiguration}))
	assert.True(t, IsConfiguration(fmt.Errorf("open: %w", store.ErrNestedTransaction)))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("synchronous", 8)
	require.NoError(t, err)
	assert.False(t, p.IsConcurrent())
	assert.Equal(t, 1, p.Limit())

	p, err = ParsePolicy("concurrent", 4)
	require.NoError(t, err)
	assert.True(t, p.IsConcurrent())
	assert.Equal(t, 4, p.Limit())
	assert.Equal(t, "concurrent(4)", p.String())

	_, err = ParsePolicy("concurrent", 0)
	assert.True(t, IsConfiguration(err))

	_, err = ParsePolicy("parallel", 2)
	assert.True(t, IsConfiguration(err))
}
