// Package testutil provides a stub database/sql driver that understands the
// statements issued by the postgres record store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Row is one stored resource row.
type Row struct {
	Version     int64
	LastUpdated time.Time
	Body        []byte
}

// StubConn records executed statements and keeps rows keyed by type and id.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Rows      map[string]map[string]Row
	FailPing  bool
	FailExec  bool
	FailQuery bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Rows: make(map[string]map[string]Row)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, normalize(query))
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	switch verb(query) {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "DELETE":
		typ, id := str(args, 0), str(args, 1)
		if _, ok := c.Rows[typ][id]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.Rows[typ], id)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported exec: %s", query)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	switch verb(query) {
	case "INSERT":
		typ, id := str(args, 0), str(args, 1)
		if c.Rows[typ] == nil {
			c.Rows[typ] = make(map[string]Row)
		}
		row := c.Rows[typ][id]
		row.Version++
		row.LastUpdated, _ = args[2].Value.(time.Time)
		row.Body = []byte(str(args, 3))
		c.Rows[typ][id] = row
		return &stubRows{cols: []string{"version"}, rows: [][]driver.Value{{row.Version}}}, nil
	case "SELECT":
		typ := str(args, 0)
		if len(args) == 2 {
			row, ok := c.Rows[typ][str(args, 1)]
			if !ok {
				return &stubRows{cols: []string{"version", "last_updated", "body"}}, nil
			}
			return &stubRows{
				cols: []string{"version", "last_updated", "body"},
				rows: [][]driver.Value{{row.Version, row.LastUpdated, row.Body}},
			}, nil
		}
		ids := make([]string, 0, len(c.Rows[typ]))
		for id := range c.Rows[typ] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := &stubRows{cols: []string{"id", "version", "last_updated", "body"}}
		for _, id := range ids {
			row := c.Rows[typ][id]
			out.rows = append(out.rows, []driver.Value{id, row.Version, row.LastUpdated, row.Body})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported query: %s", query)
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func str(args []driver.NamedValue, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
