package errors

import (
	stderrors "errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardError(t *testing.T) {
	t.Run("message with and without cause", func(t *testing.T) {
		err := New(ErrCodeTransient, "chain api timeout", stderrors.New("deadline exceeded"))
		assert.Equal(t, "[TRANSIENT] chain api timeout: deadline exceeded", err.Error())

		err = NewInvariantError("two active transactions")
		assert.Equal(t, "[INVARIANT] two active transactions", err.Error())
	})

	t.Run("default severities", func(t *testing.T) {
		assert.Equal(t, SeverityCritical, NewInvariantError("x").Severity)
		assert.Equal(t, SeverityMedium, NewTransientError("x", nil).Severity)
		assert.Equal(t, SeverityLow, NewDomainError("x").Severity)
		assert.Equal(t, SeverityLow, NewProtocolInputError("x").Severity)
	})

	t.Run("unwrap", func(t *testing.T) {
		cause := stderrors.New("root")
		err := New(ErrCodeTransient, "outer", cause)
		assert.True(t, stderrors.Is(err, cause))
	})
}

func TestIsInvariant(t *testing.T) {
	base := NewInvariantError("duplicate active transaction")

	assert.True(t, IsInvariant(base))
	assert.True(t, IsInvariant(pkgerrors.Wrap(base, "insert failed")))
	assert.True(t, IsInvariant(Wrapf(base, "event %s", "e1")))
	assert.False(t, IsInvariant(stderrors.New("plain")))
	assert.False(t, IsInvariant(nil))
	assert.False(t, IsInvariant(NewDomainError("insufficient funds")))
}

func TestWrapGuardError(t *testing.T) {
	require.Nil(t, WrapGuardError(nil, ErrCodeTransient, "x"))

	plain := stderrors.New("connection refused")
	wrapped := WrapGuardError(plain, ErrCodeTransient, "submit failed")
	assert.Equal(t, ErrCodeTransient, wrapped.Code)
	assert.Equal(t, plain, wrapped.Cause)

	existing := NewInvariantError("broken")
	again := WrapGuardError(existing, ErrCodeTransient, "outer")
	assert.Same(t, existing, again)
	assert.Equal(t, ErrCodeInvariant, again.Code)
	assert.Equal(t, "outer", again.Context["wrapped_message"])
}

func TestGetSeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, GetSeverity(nil))
	assert.Equal(t, SeverityCritical, GetSeverity(NewInvariantError("x")))
	assert.Equal(t, SeverityHigh, GetSeverity(stderrors.New("x")))
	assert.Equal(t, SeverityHigh, GetSeverity(NewTransientError("x", nil).WithSeverity(SeverityHigh)))
}
