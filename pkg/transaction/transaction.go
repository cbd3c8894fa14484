package transaction

import (
	"fmt"
	"sync/atomic"
)

var transactionCounter int64

// TransactionID is the opaque token identifying a transaction. The storage
// engine never inspects it; it only threads it through to the buffer pool,
// which keys page locks and dirty-page tracking on it.
type TransactionID struct {
	id int64
}

// NewTransactionID creates a fresh, process-unique transaction id.
func NewTransactionID() *TransactionID {
	return &TransactionID{
		id: atomic.AddInt64(&transactionCounter, 1),
	}
}

func (tid *TransactionID) ID() int64 {
	return tid.id
}

func (tid *TransactionID) String() string {
	return fmt.Sprintf("TID-%d", tid.id)
}

func (tid *TransactionID) Equals(other *TransactionID) bool {
	if tid == nil || other == nil {
		return tid == other
	}
	return tid.id == other.id
}
