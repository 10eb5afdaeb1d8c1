package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

func TestStatusWithoutDatabase(t *testing.T) {
	status, ok := NewService(nil).Status(context.Background())

	assert.True(t, ok)
	assert.Equal(t, "memory", status["database"])
}

func TestStatusReportsDatabase(t *testing.T) {
	status, ok := NewService(stubPinger{}).Status(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "up", status["database"])

	status, ok = NewService(stubPinger{err: errors.New("refused")}).Status(context.Background())
	assert.False(t, ok)
	assert.Equal(t, false, status["ok"])
	assert.Equal(t, "unreachable", status["database"])
}
