package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewCustomError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")
	require.NotNil(t, err)
	require.Equal(t, ERR_NOT_FOUND, err.Code())
	require.Equal(t, "resource not found", err.Message())

	secondErr := New(ERR_INVALID_ARGUMENT, "[ProcessBlock][%s] failed to verify proof", "_test_string_", err)
	thirdErr := New(ERR_TX_INVALID_DOUBLE_SPEND, "[ProcessBlock][%s] input spent", "_test_string_", secondErr)
	anotherErr := New(ERR_TX_INVALID_DOUBLE_SPEND, "another double spend")
	fourthErr := New(ERR_SERVICE_ERROR, "older error", thirdErr)
	fifthErr := New(ERR_BLOCK_INVALID, "block contains double spend", fourthErr)

	require.True(t, anotherErr.Is(thirdErr))
	require.True(t, fourthErr.Is(New(ERR_TX_INVALID_DOUBLE_SPEND, "")))
	require.True(t, fourthErr.Is(ErrTxInvalidDoubleSpend))
	require.True(t, fourthErr.Is(err))
	require.True(t, fifthErr.Is(thirdErr))
	require.True(t, fifthErr.Is(err))

	require.False(t, anotherErr.Is(fourthErr))
	require.False(t, fifthErr.Is(ErrBlockNotFound))
}

func Test_FmtWrappedError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")
	fmtError := fmt.Errorf("error: %w", err)

	secondErr := New(ERR_INVALID_ARGUMENT, "failed: %s", "x", fmtError)
	require.False(t, secondErr.Is(err))
	require.True(t, errors.Is(fmtError, ErrNotFound))
	require.Equal(t, ERR_NOT_FOUND, CodeOf(fmtError))
}

func Test_InvalidCode(t *testing.T) {
	err := New(ERR(9999), "whatever")
	require.Equal(t, "invalid error code", err.Message())
	require.Equal(t, "ERR(9999)", ERR(9999).String())
}

func Test_ErrorString(t *testing.T) {
	err := NewVMFailError("contract says %s", "no")
	assert.Contains(t, err.Error(), "VM_FAIL")
	assert.Contains(t, err.Error(), "contract says no")

	wrapped := NewBlockInvalidError("bad block", err)
	assert.Contains(t, wrapped.Error(), "Wrapped err")

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Equal(t, ERR_UNKNOWN, nilErr.Code())
	assert.Nil(t, nilErr.Unwrap())
}

func Test_As(t *testing.T) {
	err := NewStorageError("flush failed", fmt.Errorf("disk full"))

	var tErr *Error
	require.True(t, As(err, &tErr))
	require.Equal(t, ERR_STORAGE_ERROR, tErr.Code())
	require.EqualError(t, tErr.Unwrap(), "disk full")
}

func Test_SetData(t *testing.T) {
	err := New(ERR_PROCESSING, "with data")
	err.SetData("height", 12)
	require.Equal(t, 12, err.GetData("height"))
	require.Contains(t, err.Error(), "Data:")
}

func Test_UtxoSpentError(t *testing.T) {
	txid := chainhash.HashH([]byte("tx"))
	spender := chainhash.HashH([]byte("spender"))

	err := NewUtxoSpentError(txid, 3, 100, spender)
	require.True(t, Is(err, ErrTxInvalidDoubleSpend))

	var data *UtxoSpentErrData
	require.True(t, AsData(err, &data))
	require.Equal(t, uint32(3), data.Index)
	require.Equal(t, spender, data.SpendingTxID)

	generic := &ErrData{"height": float64(7)}
	decoded, decodeErr := GetErrorData(ERR_PROCESSING, generic.EncodeErrorData())
	require.NoError(t, decodeErr)
	require.Equal(t, float64(7), decoded.GetData("height"))

	t.Run("set and get", func(t *testing.T) {
		var d UtxoSpentErrData

		d.SetData("index", uint32(9))
		d.SetData("txid", txid)
		d.SetData("unknown", "ignored")
		require.Equal(t, uint32(9), d.GetData("index"))
		require.Equal(t, txid, d.GetData("txid"))
		require.Nil(t, d.GetData("unknown"))
	})
}

func Test_Join(t *testing.T) {
	require.Nil(t, Join(nil, nil))
	require.EqualError(t, Join(fmt.Errorf("a"), nil, fmt.Errorf("b")), "a, b")
}

func Test_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		consensus bool
		execution bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"double spend", NewTxInvalidDoubleSpendError("spent"), true, false, false},
		{"proof", NewProofInvalidError("score"), true, false, false},
		{"wrapped vdf", NewBlockInvalidError("pot", NewVDFInvalidError("segment 2")), true, false, false},
		{"vm fail", NewVMFailError("nope"), false, true, false},
		{"out of gas", NewVMOutOfGasError("gas"), false, true, false},
		{"storage", NewStorageError("io"), false, false, true},
		{"corrupt", NewStorageCorruptError("checksum"), false, false, true},
		{"plain", fmt.Errorf("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.consensus, IsConsensusError(tt.err))
			assert.Equal(t, tt.execution, IsExecutionError(tt.err))
			assert.Equal(t, tt.fatal, IsFatalError(tt.err))
		})
	}
}

func Test_IsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.True(t, IsCanceled(NewContextCanceledError("stop")))
	assert.False(t, IsCanceled(NewProcessingError("x")))
	assert.False(t, IsCanceled(nil))
}
