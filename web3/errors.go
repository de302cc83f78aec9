package web3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind classifies a failed network operation. Timeouts are retryable;
// an explicit remote error (rpc-error) is not retried by this client.
type ErrorKind int

const (
	// ErrKindTimeout: the per-operation deadline elapsed.
	ErrKindTimeout ErrorKind = iota
	// ErrKindTransport: connection-level failure (refused, reset, DNS...).
	ErrKindTransport
	// ErrKindRPC: the remote returned a JSON-RPC error object.
	ErrKindRPC
	// ErrKindMalformed: the response could not be decoded.
	ErrKindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTimeout:
		return "timeout"
	case ErrKindTransport:
		return "transport"
	case ErrKindRPC:
		return "rpc-error"
	case ErrKindMalformed:
		return "malformed"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// RPCError carries the remote code and message of a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

func (e *RPCError) ErrorCode() int { return e.Code }

// Classify maps an error from a client operation to its kind.
func Classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrKindTimeout
		}
		return ErrKindTransport
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return ErrKindRPC
	}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	if errors.As(err, &typeErr) || errors.As(err, &syntaxErr) {
		return ErrKindMalformed
	}
	return ErrKindTransport
}

// IsRetryable reports whether the operation may be reattempted: timeouts
// are, explicit remote rejections are not.
func IsRetryable(err error) bool {
	return Classify(err) == ErrKindTimeout
}

// ParseError extracts the remote code and message from an error, if the
// error originated from a JSON-RPC error object.
func ParseError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var e *RPCError
	if errors.As(err, &e) {
		return e
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return nil
}
