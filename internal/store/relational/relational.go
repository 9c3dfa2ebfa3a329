// Package relational executes relational store nodes against SQL databases
// through database/sql. SQL is a template rendered against the bindings of
// the executing state; rows are streamed as objects keyed by column name.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/hanpama/legend/internal/templating"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrUnknownConnection is returned for nodes naming a connection that is
// not configured.
var ErrUnknownConnection = errors.New("relational: unknown connection")

// Options configures a Store.
//
// Defaults:
//   - Driver:       "sqlite"
//   - MaxOpenConns: 4 per connection
//   - Templates:    templating.New(0)
//   - Logger:       zap.NewNop()
type Options struct {
	Driver       string
	Connections  map[string]string
	MaxOpenConns int
	Templates    *templating.Engine
	Logger       *zap.Logger
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Driver:       "sqlite",
		Connections:  map[string]string{},
		MaxOpenConns: 4,
		Logger:       zap.NewNop(),
	}
}

func WithDriver(name string) Option             { return func(o *Options) { o.Driver = name } }
func WithConnection(name, dsn string) Option    { return func(o *Options) { o.Connections[name] = dsn } }
func WithMaxOpenConns(n int) Option             { return func(o *Options) { o.MaxOpenConns = n } }
func WithTemplates(t *templating.Engine) Option { return func(o *Options) { o.Templates = t } }
func WithLogger(l *zap.Logger) Option           { return func(o *Options) { o.Logger = l } }
func WithConnections(m map[string]string) Option {
	return func(o *Options) {
		for k, v := range m {
			o.Connections[k] = v
		}
	}
}

// Store opens one *sql.DB per configured connection on first use and shares
// it across executions.
type Store struct {
	opts *Options
	log  *zap.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ executor.StoreFactory = (*Store)(nil)

// New returns a relational store.
func New(opts ...Option) *Store {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Templates == nil {
		o.Templates = templating.New(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Store{opts: o, log: o.Logger.Named("store.relational"), dbs: make(map[string]*sql.DB)}
}

func (s *Store) StoreType() string { return plan.TypeRelational }

func (s *Store) NewStoreState(_ context.Context, identity any) (executor.StoreState, error) {
	return &storeState{store: s, identity: identity}, nil
}

// DB returns the database of the named connection, opening it if needed.
func (s *Store) DB(ctx context.Context, name string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[name]; ok {
		return db, nil
	}
	dsn, ok := s.opts.Connections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	db, err := sql.Open(s.opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open %s: %w", name, err)
	}
	if s.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("relational: ping %s: %w", name, err)
	}
	s.dbs[name] = db
	return db, nil
}

// Close closes every opened database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := s.dbs[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("relational: close %s: %w", name, err))
		}
	}
	s.dbs = make(map[string]*sql.DB)
	return errors.Join(errs...)
}

type storeState struct {
	store    *Store
	identity any
}

func (st *storeState) Execute(ctx context.Context, node plan.StoreNode, state *executor.State) (result.Result, error) {
	n, ok := node.(*plan.RelationalNode)
	if !ok {
		return nil, fmt.Errorf("relational: unexpected node %s", node.NodeType())
	}
	s := st.store
	db, err := s.DB(ctx, n.Connection)
	if err != nil {
		return nil, err
	}
	refs, err := s.opts.Templates.References(n.SQL, state.TemplateFunctions())
	if err != nil {
		return nil, fmt.Errorf("relational: render sql: %w", err)
	}
	data, err := state.TemplateData(refs)
	if err != nil {
		return nil, err
	}
	query, err := s.opts.Templates.Render(n.SQL, data, state.TemplateFunctions())
	if err != nil {
		return nil, fmt.Errorf("relational: render sql: %w", err)
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("relational: query: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("relational: columns: %w", err)
	}
	s.log.Debug("query", zap.String("connection", n.Connection), zap.String("sql", query), zap.Duration("duration", time.Since(start)))

	builder := result.Builder{Type: result.BuilderTDS, Columns: columns}
	if len(n.Columns) > 0 {
		builder.Columns = n.Columns
	}
	return result.NewStreamingObject(scanRows(rows, columns), builder, nil, rows.Close), nil
}

// scanRows streams rows as objects keyed by column name.
func scanRows(rows *sql.Rows, columns []string) result.Seq {
	return func(yield func(any, error) bool) {
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, fmt.Errorf("relational: scan: %w", err))
				return
			}
			obj := make(map[string]any, len(columns))
			for i, c := range columns {
				if b, ok := values[i].([]byte); ok {
					obj[c] = string(b)
					continue
				}
				obj[c] = values[i]
			}
			if !yield(obj, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("relational: rows: %w", err))
		}
	}
}
