// Package testrt is a Go-native stand-in for the (out-of-scope) C runtime
// library: enough of a real database/sql backend to drive rt_db_open and
// rt_db_query through the Runtime Bridge end to end (§4.9, §6.3), without
// attempting to reimplement the runtime itself.
//
// Grounded on the teacher's internal/database/database.go: the same
// multi-driver sql.Open dispatch (blank-imported mysql/postgres/mssql
// drivers alongside sqlite3) and the same ExecuteQuery row-to-map
// marshalling, adapted from a security-scanning connection table to an
// opaque ptr-handle table addressed by VIPER's externs.
package testrt

import (
	"database/sql"
	"encoding/json"
	"strings"
	"sync"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"viper/internal/iltype"
	"viper/internal/runtimesig"
	"viper/internal/vm"
)

// Runtime owns every open connection and stored result set, each
// addressed by an opaque handle VIPER code only ever round-trips through
// a ptr value — it never dereferences one itself, matching the teacher's
// own ID-keyed connection map pattern.
type Runtime struct {
	mu      sync.Mutex
	next    uint64
	conns   map[uint64]*sql.DB
	results map[uint64]string // JSON-encoded rows, keyed by result handle
}

func NewRuntime() *Runtime {
	return &Runtime{next: 1, conns: make(map[uint64]*sql.DB), results: make(map[uint64]string)}
}

// parseDSN splits a "driver://rest" dsn into its Go sql driver name and
// the driver-specific data source, defaulting to sqlite3 the way the
// teacher's Connect defaults a bare file path to the sqlite3 case.
func parseDSN(dsn string) (driver, source string) {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i], dsn[i+3:]
	}
	return "sqlite3", dsn
}

func (rt *Runtime) alloc() uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h := rt.next
	rt.next++
	return h
}

// Open establishes a connection and stores it under a fresh handle.
// errCode follows the §6.3 taxonomy: a dial/auth/ping failure is reported
// as ErrIOError, matching the teacher's Connect/Ping failure path.
func (rt *Runtime) Open(dsn string) (handle uint64, errCode int32) {
	driver, source := parseDSN(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return 0, int32(runtimesig.ErrIOError)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return 0, int32(runtimesig.ErrIOError)
	}

	h := rt.alloc()
	rt.mu.Lock()
	rt.conns[h] = db
	rt.mu.Unlock()
	return h, 0
}

// Query runs query against the connection named by handle and stores the
// row set as a fresh result handle, the same row-to-map-then-marshal
// shape as the teacher's ExecuteQuery.
func (rt *Runtime) Query(handle uint64, query string) (resultHandle uint64, errCode int32) {
	rt.mu.Lock()
	db, ok := rt.conns[handle]
	rt.mu.Unlock()
	if !ok {
		return 0, int32(runtimesig.ErrInvalidOperation)
	}

	rows, err := db.Query(query)
	if err != nil {
		return 0, int32(runtimesig.ErrIOError)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, int32(runtimesig.ErrIOError)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, int32(runtimesig.ErrIOError)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return 0, int32(runtimesig.ErrIOError)
	}

	h := rt.alloc()
	rt.mu.Lock()
	rt.results[h] = string(encoded)
	rt.mu.Unlock()
	return h, 0
}

// Result returns the JSON-encoded rows stored under a handle returned by
// Query, for host-side inspection (not reachable from IL itself — no
// rt_db_fetch extern is in scope, only enough to prove the bridge wiring
// end to end).
func (rt *Runtime) Result(handle uint64) (string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.results[handle]
	return s, ok
}

// Close closes every open connection, for test teardown.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for h, db := range rt.conns {
		db.Close()
		delete(rt.conns, h)
	}
}

// Bridge builds a *vm.Bridge wiring rt_db_open/rt_db_query to this
// Runtime, on top of the same string/file/pow set StandardBridge
// already provides, so a module can exercise both the example registry
// entries and the database domain-expansion ones in one run.
func (rt *Runtime) Bridge() *vm.Bridge {
	b := vm.StandardBridge()
	b.Register("rt_db_open", func(args []iltype.Value) (iltype.Value, int32, error) {
		dsn := args[0].String()
		handle, errCode := rt.Open(dsn)
		if errCode != 0 {
			return iltype.NullPtr(), errCode, nil
		}
		return iltype.Ptr_(handle), 0, nil
	})
	b.Register("rt_db_query", func(args []iltype.Value) (iltype.Value, int32, error) {
		handle := args[0].Uint64()
		query := args[1].String()
		resultHandle, errCode := rt.Query(handle, query)
		if errCode != 0 {
			return iltype.NullPtr(), errCode, nil
		}
		return iltype.Ptr_(resultHandle), 0, nil
	})
	return b
}
