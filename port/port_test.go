package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/coupling/errors"
	"github.com/c360/coupling/pkg/optional"
)

func TestOperatorClassification(t *testing.T) {
	sending := []Operator{OperatorOI, OperatorOF, OperatorB}
	receiving := []Operator{OperatorFInit, OperatorS, OperatorB}

	all := []Operator{
		OperatorNone, OperatorFInit, OperatorOI, OperatorS,
		OperatorB, OperatorOF, OperatorSettingsIn,
	}

	for _, op := range all {
		t.Run(op.String(), func(t *testing.T) {
			wantSend := false
			for _, s := range sending {
				if op == s {
					wantSend = true
				}
			}
			wantRecv := false
			for _, r := range receiving {
				if op == r {
					wantRecv = true
				}
			}
			assert.Equal(t, wantSend, op.AllowsSending())
			assert.Equal(t, wantRecv, op.AllowsReceiving())
		})
	}
}

func TestOperatorParseRoundTrip(t *testing.T) {
	for _, op := range []Operator{
		OperatorNone, OperatorFInit, OperatorOI, OperatorS,
		OperatorB, OperatorOF, OperatorSettingsIn,
	} {
		parsed, err := ParseOperator(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}

	_, err := ParseOperator("F-INIT")
	assert.Error(t, err)
}

func TestScalarPort(t *testing.T) {
	p := New("state_out", OperatorOF, false, true, false, 0)

	assert.Equal(t, "state_out", p.Name())
	assert.Equal(t, OperatorOF, p.Operator())
	assert.True(t, p.IsConnected())
	assert.False(t, p.IsVector())

	open, err := p.IsOpen(optional.None[int]())
	require.NoError(t, err)
	assert.True(t, open)

	_, err = p.Length()
	assert.ErrorIs(t, err, errors.ErrNotVector)

	require.NoError(t, p.SetClosed(optional.None[int]()))
	open, err = p.IsOpen(optional.None[int]())
	require.NoError(t, err)
	assert.False(t, open)
	assert.False(t, p.AnyOpen())
}

func TestDisconnectedScalarPortStartsClosed(t *testing.T) {
	p := New("init_in", OperatorFInit, false, false, false, 0)
	open, err := p.IsOpen(optional.None[int]())
	require.NoError(t, err)
	assert.False(t, open)
}

func TestVectorPortSlots(t *testing.T) {
	p := New("bc_out", OperatorOI, true, true, false, 3)

	length, err := p.Length()
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	for slot := 0; slot < 3; slot++ {
		open, err := p.IsOpen(optional.Of(slot))
		require.NoError(t, err)
		assert.True(t, open, "slot %d", slot)
	}

	require.NoError(t, p.SetClosed(optional.Of(1)))
	open, err := p.IsOpen(optional.Of(1))
	require.NoError(t, err)
	assert.False(t, open)
	assert.True(t, p.AnyOpen())

	require.NoError(t, p.SetClosed(optional.Of(0)))
	require.NoError(t, p.SetClosed(optional.Of(2)))
	assert.False(t, p.AnyOpen())
}

func TestVectorPortSlotValidation(t *testing.T) {
	p := New("bc_out", OperatorOI, true, true, false, 2)

	_, err := p.IsOpen(optional.None[int]())
	assert.Error(t, err, "vector port requires a slot")

	_, err = p.IsOpen(optional.Of(5))
	assert.ErrorIs(t, err, errors.ErrSlotOutOfRange)

	err = p.SetClosed(optional.Of(-1))
	assert.ErrorIs(t, err, errors.ErrSlotOutOfRange)

	scalar := New("s", OperatorS, false, true, false, 0)
	_, err = scalar.IsOpen(optional.Of(0))
	assert.ErrorIs(t, err, errors.ErrNotVector)
}

func TestResizableVectorPort(t *testing.T) {
	p := New("grid_in", OperatorFInit, true, true, true, 0)
	assert.True(t, p.IsResizable())

	require.NoError(t, p.SetLength(4))
	length, err := p.Length()
	require.NoError(t, err)
	assert.Equal(t, 4, length)

	// resizing reopens every slot
	require.NoError(t, p.SetClosed(optional.Of(2)))
	require.NoError(t, p.SetLength(4))
	open, err := p.IsOpen(optional.Of(2))
	require.NoError(t, err)
	assert.True(t, open)

	fixed := New("bc_out", OperatorOI, true, true, false, 2)
	assert.ErrorIs(t, fixed.SetLength(3), errors.ErrNotResizable)
}
