package migrations

import (
	"github.com/holisticode/exec-tracer/database/vars"
	migrate "github.com/rubenv/sql-migrate"
)

var Migration001InitDatabase = &migrate.Migration{
	Id: "001-init-database",
	Up: []string{`
		CREATE TABLE IF NOT EXISTS ` + vars.TableStateSnapshots + ` (
			id            SERIAL PRIMARY KEY,
			inserted_at   timestamp NOT NULL DEFAULT current_timestamp,
			block_index   bigint NOT NULL UNIQUE,
			block_hash    text,
			block_time    bigint NOT NULL DEFAULT 0,
			format        text NOT NULL,
			entry_count   integer NOT NULL,
			dropped_reads bigint NOT NULL DEFAULT 0,
			payload       bytea NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ` + vars.TableBlockStats + ` (
			id                 SERIAL PRIMARY KEY,
			inserted_at        timestamp NOT NULL DEFAULT current_timestamp,
			block_index        bigint NOT NULL UNIQUE,
			block_hash         text,
			block_time         bigint NOT NULL DEFAULT 0,
			tx_count           integer NOT NULL,
			total_gas          bigint NOT NULL,
			opcode_count       integer NOT NULL,
			syscall_count      integer NOT NULL,
			call_count         integer NOT NULL,
			write_count        integer NOT NULL,
			notification_count integer NOT NULL,
			failed_call_count  integer NOT NULL,
			dropped_reads      bigint NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS ` + vars.TableTxTraces + ` (
			id                 SERIAL PRIMARY KEY,
			inserted_at        timestamp NOT NULL DEFAULT current_timestamp,
			block_index        bigint NOT NULL,
			tx_hash            text NOT NULL UNIQUE,
			total_gas          bigint NOT NULL,
			opcode_count       integer NOT NULL,
			call_count         integer NOT NULL,
			write_count        integer NOT NULL,
			notification_count integer NOT NULL,
			trace              bytea NOT NULL
		);

		CREATE INDEX IF NOT EXISTS ` + vars.TableTxTraces + `_block_index_idx ON ` + vars.TableTxTraces + `(block_index);
	`},
	Down: []string{`
		DROP TABLE IF EXISTS ` + vars.TableTxTraces + `;
		DROP TABLE IF EXISTS ` + vars.TableBlockStats + `;
		DROP TABLE IF EXISTS ` + vars.TableStateSnapshots + `;
	`},
	DisableTransactionUp:   false,
	DisableTransactionDown: false,
}
