package framework

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrConfig           = errors.New("invalid configuration")
	errMissingBytecode  = errors.New("artifact has no creation bytecode")
	errUnlinkedBytecode = errors.New("bytecode references unlinked libraries")
	errEventNotFound    = errors.New("event not found in receipt logs")
)

// LookupError is returned when a contract name cannot be resolved to a
// deployable artifact.
type LookupError struct {
	Name   string
	Reason string
}

func (e *LookupError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("contract %q not found in artifacts", e.Name)
	}
	return fmt.Sprintf("contract %q: %s", e.Name, e.Reason)
}

// NetworkError wraps a failure talking to the RPC endpoint.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ContractError is an on-chain failure: a reverted call or a mined
// transaction with a failed status.
type ContractError struct {
	Op     string
	TxHash common.Hash
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	switch {
	case e.Reason != "":
		b.WriteString("execution reverted: ")
		b.WriteString(e.Reason)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("execution reverted")
	}
	if e.TxHash != (common.Hash{}) {
		b.WriteString(" (tx ")
		b.WriteString(e.TxHash.Hex())
		b.WriteString(")")
	}
	return b.String()
}

func (e *ContractError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// classifyRPCError turns an RPC failure into a ContractError when the node
// reported an execution revert, and a NetworkError otherwise.
func classifyRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: err}
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			return &ContractError{Op: op, Reason: reason, Err: err}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return &ContractError{Op: op, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}

func revertReason(data interface{}) (string, bool) {
	s, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
