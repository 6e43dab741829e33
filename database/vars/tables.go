// Package vars contains the database variables such as dynamic table names
package vars

import "github.com/holisticode/exec-tracer/common"

var (
	tablePrefix = common.GetEnv("DB_TABLE_PREFIX", "dev")

	TableMigrations     = tablePrefix + "_migrations"
	TableStateSnapshots = tablePrefix + "_state_snapshots"
	TableTxTraces       = tablePrefix + "_tx_traces"
	TableBlockStats     = tablePrefix + "_block_stats"
)
