package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct {
	writeErr, closeErr error
	closed             bool
}

func (f *failing) Name() string { return "failing" }

func (f *failing) Write(context.Context, port.Record) error { return f.writeErr }

func (f *failing) Close() error {
	f.closed = true
	return f.closeErr
}

func rec() port.Record {
	return port.Record{Event: model.NewEvent("luno", "XBTZAR", time.Now(), nil), Line: "hb"}
}

func TestCompositeWritesEverySink(t *testing.T) {
	a, b := storage.NewMemory(), storage.NewMemory()
	r := New(a, nil, b)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "composite(memory,memory)", r.Name())

	require.NoError(t, r.Write(context.Background(), rec()))
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

func TestCompositeFirstErrorWins(t *testing.T) {
	boom := errors.New("disk full")
	mem := storage.NewMemory()
	r := New(&failing{writeErr: boom}, mem)

	err := r.Write(context.Background(), rec())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, mem.Records(), 1, "later sinks still receive the record")
}

func TestCompositeCloseJoinsErrors(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	f1, f2 := &failing{closeErr: e1}, &failing{closeErr: e2}

	err := New(f1, f2).Close()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.True(t, f1.closed && f2.closed)
}
