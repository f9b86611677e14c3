package interceptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mbd888/walletguard/internal/protocol"
)

// Submission methods are the only calls that get gated.
const (
	MethodSendTransaction    = "eth_sendTransaction"
	MethodSendRawTransaction = "eth_sendRawTransaction"
)

// IsSubmission reports whether method submits a transaction.
func IsSubmission(method string) bool {
	return method == MethodSendTransaction || method == MethodSendRawTransaction
}

// InvalidParamsError reports a submission whose params could not be read.
// Such a call is never forwarded.
type InvalidParamsError struct {
	Method string
	Err    error
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Err)
}

func (e *InvalidParamsError) Is(target error) bool { return target == ErrInvalidParams }

func (e *InvalidParamsError) Unwrap() error { return e.Err }

// splitParams decodes a positional params array. null or empty input yields
// no arguments.
func splitParams(params json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("params must be an array")
	}
	var args []json.RawMessage
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ExtractPayload reads the from/to/data triple out of a submission's params.
func ExtractPayload(method string, params json.RawMessage) (protocol.TransactionPayload, error) {
	args, err := splitParams(params)
	if err != nil {
		return protocol.TransactionPayload{}, &InvalidParamsError{Method: method, Err: err}
	}
	if len(args) == 0 {
		return protocol.TransactionPayload{}, &InvalidParamsError{Method: method, Err: fmt.Errorf("missing transaction argument")}
	}

	var p protocol.TransactionPayload
	switch method {
	case MethodSendTransaction:
		p, err = payloadFromObject(args[0])
	case MethodSendRawTransaction:
		p, err = payloadFromRaw(args[0])
	default:
		err = fmt.Errorf("not a submission method")
	}
	if err != nil {
		return protocol.TransactionPayload{}, &InvalidParamsError{Method: method, Err: err}
	}
	return p, nil
}

func payloadFromObject(arg json.RawMessage) (protocol.TransactionPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(arg, &fields); err != nil {
		return protocol.TransactionPayload{}, fmt.Errorf("transaction must be an object: %w", err)
	}
	if fields == nil {
		return protocol.TransactionPayload{}, fmt.Errorf("transaction must be an object")
	}

	var (
		p   protocol.TransactionPayload
		err error
	)
	if p.From, err = optionalString(fields, "from"); err != nil {
		return p, err
	}
	if p.To, err = optionalString(fields, "to"); err != nil {
		return p, err
	}
	// "data" wins over the older "input" spelling.
	if p.Data, err = optionalString(fields, "data"); err != nil {
		return p, err
	}
	if p.Data == "" {
		if p.Data, err = optionalString(fields, "input"); err != nil {
			return p, err
		}
	}

	for k, v := range fields {
		switch k {
		case "from", "to", "data", "input":
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return p, nil
}

func optionalString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return s, nil
}

func payloadFromRaw(arg json.RawMessage) (protocol.TransactionPayload, error) {
	var encoded string
	if err := json.Unmarshal(arg, &encoded); err != nil {
		return protocol.TransactionPayload{}, fmt.Errorf("raw transaction must be a hex string")
	}
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return protocol.TransactionPayload{}, fmt.Errorf("raw transaction: %w", err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return protocol.TransactionPayload{}, fmt.Errorf("decode raw transaction: %w", err)
	}

	var signer types.Signer = types.HomesteadSigner{}
	if tx.Protected() {
		signer = types.LatestSignerForChainID(tx.ChainId())
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return protocol.TransactionPayload{}, fmt.Errorf("recover sender: %w", err)
	}

	p := protocol.TransactionPayload{
		From: from.Hex(),
		Data: hexutil.Encode(tx.Data()),
	}
	if to := tx.To(); to != nil {
		p.To = to.Hex()
	}

	extra := map[string]any{
		"hash":    tx.Hash().Hex(),
		"type":    hexutil.Uint64(tx.Type()),
		"nonce":   hexutil.Uint64(tx.Nonce()),
		"gas":     hexutil.Uint64(tx.Gas()),
		"value":   (*hexutil.Big)(nonNilBig(tx.Value())),
		"chainId": (*hexutil.Big)(nonNilBig(tx.ChainId())),
	}
	p.Extra = make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		b, err := json.Marshal(v)
		if err != nil {
			return protocol.TransactionPayload{}, err
		}
		p.Extra[k] = b
	}
	return p, nil
}

func nonNilBig(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}
