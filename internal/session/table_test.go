package session

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/wagate/internal/transport"
	"github.com/dmitrijs2005/wagate/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
)

func TestTable_PutGetRemove(t *testing.T) {
	tbl := NewTable()
	h := NewHandle("dev-1", transporttest.NewConn("dev-1", transport.AuthState{}))

	assert.False(t, tbl.Exists("dev-1"))
	tbl.Put(h)
	got, ok := tbl.Get("dev-1")
	assert.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, 1, tbl.Len())

	tbl.Remove("dev-1")
	assert.False(t, tbl.Exists("dev-1"))
}

func TestTable_RemoveHandleKeepsSuccessor(t *testing.T) {
	tbl := NewTable()
	old := NewHandle("dev-1", transporttest.NewConn("dev-1", transport.AuthState{}))
	next := NewHandle("dev-1", transporttest.NewConn("dev-1", transport.AuthState{}))

	tbl.Put(old)
	tbl.Put(next)
	tbl.removeHandle(old)

	got, ok := tbl.Get("dev-1")
	assert.True(t, ok)
	assert.Same(t, next, got)
}

func TestHandle_DelegatesToConnection(t *testing.T) {
	conn := transporttest.NewConn("dev-1", transport.AuthState{})
	conn.Register("15550002")
	h := NewHandle("dev-1", conn)

	addr, err := h.CheckAddress(context.Background(), "15550002")
	assert.NoError(t, err)
	assert.Equal(t, "15550002@s.whatsapp.net", addr)

	id, err := h.SendText(context.Background(), addr, "hi")
	assert.NoError(t, err)
	assert.Equal(t, "MSG1", id)
}

func TestBackoff_Ceiling(t *testing.T) {
	b := NewBackoff(3)
	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow("dev-1"))
	}
	assert.False(t, b.Allow("dev-1"))
	assert.Equal(t, 3, b.Attempts("dev-1"))
	assert.True(t, b.Allow("dev-2"))

	b.Reset("dev-1")
	assert.Equal(t, 0, b.Attempts("dev-1"))
	assert.True(t, b.Allow("dev-1"))
}

func TestBackoff_DefaultCeiling(t *testing.T) {
	b := NewBackoff(0)
	for i := 0; i < DefaultMaxReconnects; i++ {
		assert.True(t, b.Allow("dev-1"))
	}
	assert.False(t, b.Allow("dev-1"))
}

func TestPending_FirstResolveWins(t *testing.T) {
	p := NewPending()
	assert.False(t, p.Done())
	assert.True(t, p.Resolve(Result{OK: true, Message: "first"}))
	assert.False(t, p.Resolve(Result{Message: "second"}))
	assert.True(t, p.Done())

	r, err := p.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "first", r.Message)
}

func TestPending_WaitAbandons(t *testing.T) {
	p := NewPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.Done())
	assert.False(t, p.Resolve(Result{OK: true}))
}

func TestPending_NilIsAnswered(t *testing.T) {
	var p *Pending
	assert.True(t, p.Done())
	assert.False(t, p.Resolve(Result{}))
}
