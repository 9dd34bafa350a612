package solana

import (
	"context"
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Transaction sender — external signer/RPC collaborator boundary
// ---------------------------------------------------------------------------

// TxSender signs and submits swap transactions built by the execution
// engine, and reports their confirmation status. Real implementations wrap
// a wallet service plus RPC transport; the engine never touches key
// material itself.
type TxSender interface {
	// SignAndSend signs the base64-encoded unsigned transaction and submits
	// it to the chain, returning the transaction signature.
	SignAndSend(ctx context.Context, txBase64 string) (Signature, error)

	// Status reports the confirmation state of a submitted transaction.
	Status(ctx context.Context, sig Signature) (TxStatus, error)
}

// ---------------------------------------------------------------------------
// Stub sender (tests and stub mode)
// ---------------------------------------------------------------------------

// StubTxSender is an in-memory TxSender for tests and stub mode. Every
// submission confirms immediately unless a failure is queued.
type StubTxSender struct {
	mu        sync.Mutex
	sendCount int
	statuses  map[Signature]TxStatus
	failNext  error
}

// NewStubTxSender creates a stub transaction sender.
func NewStubTxSender() *StubTxSender {
	return &StubTxSender{statuses: make(map[Signature]TxStatus)}
}

// FailNext makes the next SignAndSend call return err.
func (s *StubTxSender) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// SendCount returns how many transactions have been submitted.
func (s *StubTxSender) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCount
}

func (s *StubTxSender) SignAndSend(_ context.Context, _ string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return "", err
	}
	s.sendCount++
	sig := Signature(fmt.Sprintf("stub-sig-%d", s.sendCount))
	s.statuses[sig] = TxConfirmed
	return sig, nil
}

func (s *StubTxSender) Status(_ context.Context, sig Signature) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[sig]
	if !ok {
		return TxFailed, fmt.Errorf("unknown signature %s", sig)
	}
	return status, nil
}
