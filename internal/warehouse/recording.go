package warehouse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Statement is one recorded gateway call.
type Statement struct {
	SQL           string
	Args          []any
	InTransaction bool
	RolledBack    bool
}

// RecordingGateway is a scripted Gateway for tests. It journals every
// statement, marks statements from aborted transactions as rolled back,
// and answers scalar queries through pluggable hooks.
type RecordingGateway struct {
	mu      sync.Mutex
	journal []Statement
	inTx    bool
	txStart int

	// DayFunc answers ScalarDay queries. Nil means "no row".
	DayFunc func(query string, args []any) (string, bool)

	// TimeFunc answers ScalarTime queries. Nil means "no row".
	TimeFunc func(query string, args []any) (time.Time, bool)

	// ExistsFunc answers Exists queries. Nil means false.
	ExistsFunc func(query string, args []any) bool

	// FailOn aborts any Execute/BulkLoadCSV whose SQL contains the
	// substring, simulating an engine-reported query failure.
	FailOn string

	// CompactErr is returned from Compact when set.
	CompactErr error
}

// NewRecordingGateway creates an empty recording gateway.
func NewRecordingGateway() *RecordingGateway {
	return &RecordingGateway{}
}

// Journal returns a copy of all recorded statements, including rolled
// back ones.
func (g *RecordingGateway) Journal() []Statement {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Statement, len(g.journal))
	copy(out, g.journal)
	return out
}

// Committed returns only the statements that survived their transaction.
func (g *RecordingGateway) Committed() []Statement {
	var out []Statement
	for _, s := range g.Journal() {
		if !s.RolledBack {
			out = append(out, s)
		}
	}
	return out
}

func (g *RecordingGateway) record(sql string, args []any) error {
	g.mu.Lock()
	g.journal = append(g.journal, Statement{SQL: sql, Args: args, InTransaction: g.inTx})
	g.mu.Unlock()
	if g.FailOn != "" && strings.Contains(sql, g.FailOn) {
		return NewInjectedError(sql)
	}
	return nil
}

// NewInjectedError builds the error used for scripted statement failures.
func NewInjectedError(sql string) error {
	return fmt.Errorf("injected query failure: %s", sql)
}

func (g *RecordingGateway) Execute(ctx context.Context, stmt string, args ...any) error {
	return g.record(stmt, args)
}

func (g *RecordingGateway) ScalarDay(ctx context.Context, query string, args ...any) (string, bool, error) {
	if g.DayFunc == nil {
		return "", false, nil
	}
	day, ok := g.DayFunc(query, args)
	return day, ok, nil
}

func (g *RecordingGateway) ScalarTime(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	if g.TimeFunc == nil {
		return time.Time{}, false, nil
	}
	t, ok := g.TimeFunc(query, args)
	return t, ok, nil
}

func (g *RecordingGateway) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	if g.ExistsFunc == nil {
		return false, nil
	}
	return g.ExistsFunc(query, args), nil
}

func (g *RecordingGateway) BulkLoadCSV(ctx context.Context, table string, columns []string, uri string) error {
	stmt := fmt.Sprintf("COPY %s (%s) FROM '%s' (FORMAT CSV, HEADER FALSE)",
		table, strings.Join(columns, ", "), uri)
	return g.record(stmt, nil)
}

func (g *RecordingGateway) InTransaction(ctx context.Context, body func(tx Gateway) error) error {
	g.mu.Lock()
	g.inTx = true
	g.txStart = len(g.journal)
	g.mu.Unlock()

	err := body(g)

	g.mu.Lock()
	if err != nil {
		for i := g.txStart; i < len(g.journal); i++ {
			g.journal[i].RolledBack = true
		}
	}
	g.inTx = false
	g.mu.Unlock()
	return err
}

func (g *RecordingGateway) Compact(ctx context.Context, table string) error {
	if err := g.record("CHECKPOINT -- "+table, nil); err != nil {
		return err
	}
	return g.CompactErr
}
