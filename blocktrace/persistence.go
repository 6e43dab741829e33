package blocktrace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/snapshot"
)

// TransactionTrace is the persisted form of one transaction's trace.
type TransactionTrace struct {
	BlockIndex    uint32              `json:"blockIndex"` //nolint:tagliatelle
	TxHash        common.Hash         `json:"txHash"`     //nolint:tagliatelle
	OpCodes       []OpCodeEntry       `json:"opcodes"`
	Syscalls      []SyscallEntry      `json:"syscalls"`
	ContractCalls []ContractCallEntry `json:"contractCalls"` //nolint:tagliatelle
	StorageWrites []StorageWriteEntry `json:"storageWrites"` //nolint:tagliatelle
	Notifications []NotificationEntry `json:"notifications"`
	Stats         TransactionStats    `json:"stats"`
}

// BlockStats aggregates the transaction stats of one committed block.
type BlockStats struct {
	BlockIndex        uint32      `json:"blockIndex"` //nolint:tagliatelle
	BlockHash         common.Hash `json:"blockHash"`  //nolint:tagliatelle
	Timestamp         uint64      `json:"timestamp"`
	TransactionCount  int         `json:"transactionCount"`  //nolint:tagliatelle
	TotalGasConsumed  int64       `json:"totalGasConsumed"`  //nolint:tagliatelle
	OpCodeCount       int         `json:"opcodeCount"`       //nolint:tagliatelle
	SyscallCount      int         `json:"syscallCount"`      //nolint:tagliatelle
	ContractCallCount int         `json:"contractCallCount"` //nolint:tagliatelle
	StorageWriteCount int         `json:"storageWriteCount"` //nolint:tagliatelle
	NotificationCount int         `json:"notificationCount"` //nolint:tagliatelle
	FailedCallCount   int         `json:"failedCallCount"`   //nolint:tagliatelle
	DroppedReads      uint64      `json:"droppedReads"`      //nolint:tagliatelle
}

// SnapshotRecord accompanies an encoded state snapshot on its way to the sink.
type SnapshotRecord struct {
	BlockIndex   uint32          `json:"blockIndex"` //nolint:tagliatelle
	BlockHash    common.Hash     `json:"blockHash"`  //nolint:tagliatelle
	Timestamp    uint64          `json:"timestamp"`
	Format       snapshot.Format `json:"format"`
	EntryCount   int             `json:"entryCount"`   //nolint:tagliatelle
	DroppedReads uint64          `json:"droppedReads"` //nolint:tagliatelle
}
