package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletguard/internal/retry"
)

type ethService struct {
	chainID int64
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(s.chainID))
}

func (s *ethService) BlockNumber() hexutil.Uint64 { return 0x10 }

func newNode(t *testing.T, chainID int64) *rpc.Server {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", &ethService{chainID: chainID}))
	t.Cleanup(srv.Stop)
	return srv
}

func TestUpstream_InProc(t *testing.T) {
	u := NewFromClient(rpc.DialInProc(newNode(t, 8453)))
	defer u.Close()

	id, err := u.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8453), id.Int64())
	assert.NoError(t, u.Ping(context.Background()))

	var raw json.RawMessage
	require.NoError(t, u.CallContext(context.Background(), &raw, "eth_blockNumber"))
	assert.JSONEq(t, `"0x10"`, string(raw))
}

func TestDial_HTTP(t *testing.T) {
	ts := httptest.NewServer(newNode(t, 1))
	defer ts.Close()

	u, err := Dial(context.Background(), Config{URL: ts.URL, ExpectedChainID: 1})
	require.NoError(t, err)
	defer u.Close()
	assert.Equal(t, ts.URL, u.URL())
}

func TestDial_ChainMismatch(t *testing.T) {
	ts := httptest.NewServer(newNode(t, 1))
	defer ts.Close()

	_, err := Dial(context.Background(), Config{URL: ts.URL, ExpectedChainID: 8453})
	assert.True(t, errors.Is(err, ErrChainMismatch))
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrRPCConnection)

	fast := retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	_, err = Dial(context.Background(), Config{URL: "ftp://nowhere", DialRetry: fast})
	assert.ErrorIs(t, err, ErrRPCConnection)
}
