package chainrpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	cierrors "chainindex/pkg/errors"
)

func TestClassifyError_BlockNotFound(t *testing.T) {
	err := classifyError("eth_getBlockByNumber", errors.New("header not found"))

	assert.Equal(t, cierrors.KindBlockNotFound, cierrors.KindOf(err))
}

func TestClassifyError_TransactionNotFound(t *testing.T) {
	err := classifyError("eth_getTransactionByHash", errors.New("transaction not found"))

	assert.Equal(t, cierrors.KindTransactionNotFnd, cierrors.KindOf(err))
}

func TestClassifyError_ReceiptNotFound(t *testing.T) {
	err := classifyError("eth_getTransactionReceipt", errors.New("receipt not found"))

	assert.Equal(t, cierrors.KindReceiptNotFound, cierrors.KindOf(err))
}

func TestClassifyError_ZeroData(t *testing.T) {
	err := classifyError("eth_call", errors.New("execution returned no data"))

	assert.Equal(t, cierrors.KindZeroData, cierrors.KindOf(err))
}

func TestClassifyError_UnrecognizedMessagePassesThrough(t *testing.T) {
	original := errors.New("connection reset by peer")

	err := classifyError("eth_call", original)

	assert.Same(t, original, err)
}
