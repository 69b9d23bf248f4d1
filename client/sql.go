package client

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
)

// SQLOptions configures a SQLClient connection.
type SQLOptions struct {
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Table holds the key-value rows; empty means "kv".
	Table string
}

func (o SQLOptions) table() string {
	if o.Table == "" {
		return "kv"
	}
	return o.Table
}

func (o SQLOptions) dsn(node string) string {
	mode := o.SSLMode
	if mode == "" {
		mode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		node, o.Port, o.User, o.Password, o.DBName, mode)
}

// SQLClient runs list-append transactions against a Postgres-wire store.
// Keys live in a kv table; each value row is a space-separated list of
// appended integers.
type SQLClient struct {
	opt  SQLOptions
	node string
	db   *sql.DB
}

var _ replicheck.Client = (*SQLClient)(nil)

func NewSQLClient(opt SQLOptions) *SQLClient {
	return &SQLClient{opt: opt}
}

// EnsureSchema creates the kv table. Callers run it once per cluster
// during database setup.
func (c *SQLClient) EnsureSchema(ctx context.Context) error {
	if c.db == nil {
		return errors.New("sql client not open")
	}
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (k INT PRIMARY KEY, v TEXT NOT NULL)`, c.opt.table()))
	return errors.Wrap(err, "ensure schema")
}

func (c *SQLClient) Open(ctx context.Context, node string) error {
	db, err := sql.Open("postgres", c.opt.dsn(node))
	if err != nil {
		return errors.Wrapf(err, "open %s", node)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrapf(err, "ping %s", node)
	}
	c.node = node
	c.db = db
	return nil
}

func (c *SQLClient) Invoke(ctx context.Context, txn *replicheck.Txn) replicheck.Result {
	resolved, err := c.runTxn(ctx, txn)
	if err != nil {
		return classifySQL(err)
	}
	return replicheck.OK(resolved)
}

func (c *SQLClient) runTxn(ctx context.Context, txn *replicheck.Txn) (replicheck.Txn, error) {
	var out replicheck.Txn
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return out, err
	}
	defer func() { _ = tx.Rollback() }()

	out.Mops = make([]replicheck.Mop, len(txn.Mops))
	for i, m := range txn.Mops {
		out.Mops[i] = m
		switch m.F {
		case replicheck.MopRead:
			var v string
			query := fmt.Sprintf(`SELECT v FROM %s WHERE k = $1`, c.opt.table())
			err := tx.QueryRowContext(ctx, query, m.K).Scan(&v)
			if err == sql.ErrNoRows {
				continue // absent key reads as nil
			}
			if err != nil {
				return out, err
			}
			list, err := parseList(v)
			if err != nil {
				return out, err
			}
			out.Mops[i].Reads = list
		case replicheck.MopAppend:
			table := c.opt.table()
			query := fmt.Sprintf(
				`INSERT INTO %s (k, v) VALUES ($1, $2)
				 ON CONFLICT (k) DO UPDATE SET v = %s.v || ' ' || $2`, table, table)
			_, err := tx.ExecContext(ctx, query, m.K, strconv.Itoa(m.Arg))
			if err != nil {
				return out, err
			}
		default:
			return out, errors.Errorf("unknown mop function %q", m.F)
		}
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	return out, nil
}

func parseList(v string) ([]int, error) {
	fields := strings.Fields(v)
	list := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed value list %q", v)
		}
		list[i] = n
	}
	return list, nil
}

// classifySQL maps driver errors onto outcomes. A pq.Error is a reply from
// the server: the statement was received and rejected, so the transaction
// did not commit (fail). Serialization and deadlock aborts (40001, 40P01)
// are the common case under contention. Errors without a server reply,
// including a commit that raced a connection drop, stay ambiguous.
func classifySQL(err error) replicheck.Result {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return replicheck.Fail(err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return replicheck.Info(err)
	}
	if isTimeout(err) {
		return replicheck.Info(err)
	}
	return classifyTransport(err)
}

func (c *SQLClient) Teardown() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *SQLClient) Close() error { return c.Teardown() }
