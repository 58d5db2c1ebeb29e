package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"time"

	"github.com/ngrok/sqlmw"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	opRegex     = regexp.MustCompile(`^\s*(\w+)`)
	pgOpLatency *prometheus.HistogramVec
	pgOpTotal   *prometheus.CounterVec
)

// metricInterceptor wraps the pgx driver and measures every round trip.
type metricInterceptor struct {
	sqlmw.NullInterceptor
}

func init() {
	pgOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "pg_op_duration_milliseconds",
		Help:      "Time spent on a postgres operation",
		Subsystem: "records_ingestion",
		Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
	},
		[]string{"op", "method"},
	)
	pgOpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "pg_op_total",
		Help:      "Number of postgres operations",
		Subsystem: "records_ingestion",
	},
		[]string{"op"},
	)

	prometheus.MustRegister(pgOpLatency)
	prometheus.MustRegister(pgOpTotal)
}

func (mi *metricInterceptor) ConnBeginTx(ctx context.Context, conn driver.ConnBeginTx, opts driver.TxOptions) (context.Context, driver.Tx, error) {
	defer mi.measure("conn-begin-tx", "begin", time.Now())
	tx, err := conn.BeginTx(ctx, opts)
	return ctx, tx, err
}

func (mi *metricInterceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	defer mi.measure("conn-exec-context", statementVerb(query), time.Now())
	return conn.ExecContext(ctx, query, args)
}

func (mi *metricInterceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	defer mi.measure("conn-query-context", statementVerb(query), time.Now())
	rows, err := conn.QueryContext(ctx, query, args)
	return ctx, rows, err
}

func (mi *metricInterceptor) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	defer mi.measure("stmt-exec-context", statementVerb(query), time.Now())
	return conn.ExecContext(ctx, args)
}

func (mi *metricInterceptor) StmtQueryContext(ctx context.Context, conn driver.StmtQueryContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	defer mi.measure("stmt-query-context", statementVerb(query), time.Now())
	rows, err := conn.QueryContext(ctx, args)
	return ctx, rows, err
}

func (mi *metricInterceptor) TxCommit(ctx context.Context, conn driver.Tx) error {
	defer mi.measure("tx-commit", "commit", time.Now())
	return conn.Commit()
}

func (mi *metricInterceptor) TxRollback(ctx context.Context, conn driver.Tx) error {
	defer mi.measure("tx-rollback", "rollback", time.Now())
	return conn.Rollback()
}

func (mi *metricInterceptor) measure(op, method string, start time.Time) {
	pgOpTotal.With(prometheus.Labels{"op": op}).Inc()
	pgOpLatency.With(prometheus.Labels{"op": op, "method": method}).
		Observe(float64(time.Since(start).Milliseconds()))
}

func statementVerb(query string) string {
	m := opRegex.FindStringSubmatch(query)
	if len(m) < 2 {
		return "unknown"
	}
	return strings.ToLower(m[1])
}
