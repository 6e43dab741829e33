package replay_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-utils/rpcclient"
	"github.com/holisticode/exec-tracer/common"
	"github.com/holisticode/exec-tracer/mocks"
	"github.com/holisticode/exec-tracer/replay"
	"github.com/holisticode/exec-tracer/snapshot"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const zeroHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

func getTestLogger() *slog.Logger {
	return common.SetupLogger(&common.LoggingOpts{
		Debug:   true,
		JSON:    false,
		Service: "test",
		Version: common.Version,
	})
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func emptyBlockOne(t *testing.T) string {
	return writeFixture(t, "1.json", `{"block":1,"hash":"`+zeroHash+`","keyCount":0,"keys":[]}`)
}

func TestHashMismatchRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	applier := mocks.NewMockApplier(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(10), nil)
	ledger.EXPECT().BlockHash(gomock.Any(), uint32(1)).Return(ethcommon.HexToHash("0x01"), nil)

	v := replay.NewVerifier(ledger, applier, getTestLogger())
	res, err := v.VerifyFile(t.Context(), emptyBlockOne(t), nil)
	require.Error(t, err)
	require.True(t, replay.IsCheck(err, replay.CheckHash))
	require.Equal(t, replay.StateRejected, res.State)
	require.ErrorContains(t, err, "hash")
}

func TestMissingBlockRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	applier := mocks.NewMockApplier(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(0), nil)

	v := replay.NewVerifier(ledger, applier, getTestLogger())
	_, err := v.VerifyFile(t.Context(), emptyBlockOne(t), nil)
	var ve *replay.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, replay.CheckMissingBlock, ve.Check)
	require.Equal(t, uint32(1), ve.Block)
}

func TestBlockNotFoundRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(10), nil)
	ledger.EXPECT().BlockHash(gomock.Any(), uint32(1)).Return(ethcommon.Hash{}, replay.ErrBlockNotFound)

	v := replay.NewVerifier(ledger, mocks.NewMockApplier(ctrl), getTestLogger())
	_, err := v.VerifyFile(t.Context(), emptyBlockOne(t), nil)
	require.True(t, replay.IsCheck(err, replay.CheckMissingBlock))
	require.ErrorIs(t, err, replay.ErrBlockNotFound)
}

func TestExplicitHeightMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	// neither the ledger nor the applier may be consulted
	v := replay.NewVerifier(mocks.NewMockLedger(ctrl), mocks.NewMockApplier(ctrl), getTestLogger())
	height := uint32(2)
	res, err := v.VerifyFile(t.Context(), emptyBlockOne(t), &height)
	require.True(t, replay.IsCheck(err, replay.CheckHeight))
	require.Equal(t, []replay.State{replay.StateLoaded, replay.StateRejected}, res.Transitions)
}

func TestLedgerErrorIsNotAValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(0), errors.New("connection refused"))

	v := replay.NewVerifier(ledger, mocks.NewMockApplier(ctrl), getTestLogger())
	_, err := v.VerifyFile(t.Context(), emptyBlockOne(t), nil)
	require.Error(t, err)
	var ve *replay.ValidationError
	require.False(t, errors.As(err, &ve))
}

func TestTextChecks(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check replay.Check
	}{
		{
			name:  "key count",
			body:  `{"block":1,"hash":"` + zeroHash + `","keyCount":2,"keys":[{"key":"AQ==","value":"Ag==","readOrder":0}]}`,
			check: replay.CheckKeyCount,
		},
		{
			name:  "key encoding",
			body:  `{"block":1,"hash":"` + zeroHash + `","keyCount":1,"keys":[{"key":"not base64!","value":"Ag==","readOrder":0}]}`,
			check: replay.CheckEncoding,
		},
		{
			name:  "value encoding",
			body:  `{"block":1,"hash":"` + zeroHash + `","keyCount":1,"keys":[{"key":"AQ==","value":"%%","readOrder":0}]}`,
			check: replay.CheckEncoding,
		},
		{
			name:  "malformed hash",
			body:  `{"block":1,"hash":"0x1234","keyCount":0,"keys":[]}`,
			check: replay.CheckHash,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			ledger := mocks.NewMockLedger(ctrl)
			ledger.EXPECT().Height(gomock.Any()).Return(uint32(5), nil)
			ledger.EXPECT().BlockHash(gomock.Any(), uint32(1)).Return(ethcommon.Hash{}, nil)

			v := replay.NewVerifier(ledger, mocks.NewMockApplier(ctrl), getTestLogger())
			res, err := v.VerifyFile(t.Context(), writeFixture(t, "1.json", tt.body), nil)
			require.True(t, replay.IsCheck(err, tt.check), "got %v", err)
			require.Equal(t, replay.StateRejected, res.State)
		})
	}
}

func TestTextApplied(t *testing.T) {
	ctrl := gomock.NewController(t)
	blockHash := ethcommon.HexToHash("0xabcdef")
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(7), nil)
	ledger.EXPECT().BlockHash(gomock.Any(), uint32(7)).Return(blockHash, nil)

	f := &snapshot.File{BlockIndex: 7, Entries: []snapshot.Entry{
		{ContractHash: ethcommon.Address{0x01}, Key: []byte("a"), Value: []byte("1"), ReadOrder: 0},
		{ContractHash: ethcommon.Address{0x01}, Key: []byte("b"), Value: []byte("2"), ReadOrder: 1},
	}}
	path := filepath.Join(t.TempDir(), "7.json")
	require.NoError(t, snapshot.WriteFile(path, f, snapshot.FormatText, blockHash))

	store := replay.NewMemoryStore()
	v := replay.NewVerifier(ledger, store, getTestLogger())
	height := uint32(7)
	res, err := v.VerifyFile(t.Context(), path, &height)
	require.NoError(t, err)
	require.Equal(t, replay.StateApplied, res.State)
	require.Equal(t, []replay.State{
		replay.StateLoaded,
		replay.StateHeightChecked,
		replay.StateHashChecked,
		replay.StateKeyCountChecked,
		replay.StateApplied,
	}, res.Transitions)
	require.Equal(t, 2, res.Entries)
	require.Equal(t, blockHash, res.BlockHash)

	v2, ok := store.Get(ethcommon.Address{0x01}, []byte("b"))
	require.True(t, ok)
	require.Equal(t, []byte("2"), v2)
	n, ok := store.Applied(7)
	require.True(t, ok)
	require.Equal(t, 2, n)
}

func TestBinaryApplied(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(100), nil)
	ledger.EXPECT().BlockHash(gomock.Any(), uint32(100)).Return(ethcommon.HexToHash("0x64"), nil)
	applier := mocks.NewMockApplier(ctrl)
	applier.EXPECT().Apply(gomock.Any(), uint32(100), gomock.Len(3)).Return(nil)

	f := &snapshot.File{BlockIndex: 100}
	for i := int32(0); i < 3; i++ {
		f.Entries = append(f.Entries, snapshot.Entry{Key: []byte{0x01, 0x02}, Value: []byte{0x03, 0x04, 0x05}, ReadOrder: i})
	}
	path := filepath.Join(t.TempDir(), "100.bin")
	require.NoError(t, snapshot.WriteFile(path, f, snapshot.FormatBinary, ethcommon.Hash{}))

	res, err := replay.NewVerifier(ledger, applier, getTestLogger()).VerifyFile(t.Context(), path, nil)
	require.NoError(t, err)
	require.Equal(t, snapshot.FormatBinary, res.Format)
	require.Equal(t, 3, res.Entries)
}

func TestCorruptBinaryIsDecodeError(t *testing.T) {
	ctrl := gomock.NewController(t)
	path := writeFixture(t, "bad.bin", "NSBR\x01\x00\x01\x00\x00\x00\xff\xff\xff\xff")

	v := replay.NewVerifier(mocks.NewMockLedger(ctrl), mocks.NewMockApplier(ctrl), getTestLogger())
	_, err := v.VerifyFile(t.Context(), path, nil)
	var de *snapshot.DecodeError
	require.ErrorAs(t, err, &de)
	require.ErrorIs(t, err, snapshot.ErrNegativeCount)
}

func TestApplierFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().Height(gomock.Any()).Return(uint32(1), nil)
	ledger.EXPECT().BlockHash(gomock.Any(), uint32(1)).Return(ethcommon.Hash{}, nil)
	applier := mocks.NewMockApplier(ctrl)
	applier.EXPECT().Apply(gomock.Any(), uint32(1), gomock.Any()).Return(errors.New("disk full"))

	res, err := replay.NewVerifier(ledger, applier, getTestLogger()).VerifyFile(t.Context(), emptyBlockOne(t), nil)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, replay.StateKeyCountChecked, res.State)
}

func TestRPCLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockRPCCaller(ctrl)
	ledger := replay.NewRPCLedgerWithClient(client)

	gomock.InOrder(
		client.EXPECT().Call(gomock.Any(), replay.GetBlockCountRPC).Return(nil, errors.New("connection reset")),
		client.EXPECT().Call(gomock.Any(), replay.GetBlockCountRPC).Return(&rpcclient.RPCResponse{Result: json.Number("12")}, nil),
	)
	height, err := ledger.Height(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint32(11), height)

	hash := ethcommon.HexToHash("0xfeed")
	client.EXPECT().Call(gomock.Any(), replay.GetBlockHashRPC, uint32(3)).Return(&rpcclient.RPCResponse{Result: hash.Hex()}, nil)
	got, err := ledger.BlockHash(t.Context(), 3)
	require.NoError(t, err)
	require.Equal(t, hash, got)

	// answers from the node are not retried
	client.EXPECT().Call(gomock.Any(), replay.GetBlockHashRPC, uint32(99)).Times(1).Return(&rpcclient.RPCResponse{
		Error: &rpcclient.RPCError{Code: -100, Message: "Unknown block"},
	}, nil)
	_, err = ledger.BlockHash(t.Context(), 99)
	require.ErrorIs(t, err, replay.ErrBlockNotFound)

	client.EXPECT().Call(gomock.Any(), replay.GetBlockHashRPC, uint32(4)).Return(&rpcclient.RPCResponse{Result: "0x12"}, nil)
	_, err = ledger.BlockHash(t.Context(), 4)
	require.Error(t, err)
}
