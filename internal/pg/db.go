// Package pg opens the pgx pool shared by the postgres repositories.
package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pingTimeout = 5 * time.Second

type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ApplicationName   string

	// SlowQuery > 0 включает логирование запросов дольше порога.
	SlowQuery time.Duration
	Logger    *slog.Logger
}

// NewPool открывает пул и сразу проверяет соединение.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// poolConfig накладывает ненулевые поля cfg поверх параметров из DSN.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	setIf(&pc.MaxConns, cfg.MaxConns)
	setIf(&pc.MinConns, cfg.MinConns)
	setIf(&pc.MaxConnLifetime, cfg.MaxConnLifetime)
	setIf(&pc.MaxConnIdleTime, cfg.MaxConnIdleTime)
	setIf(&pc.HealthCheckPeriod, cfg.HealthCheckPeriod)

	if cfg.ApplicationName != "" {
		params := pc.ConnConfig.RuntimeParams
		if params == nil {
			params = make(map[string]string, 1)
			pc.ConnConfig.RuntimeParams = params
		}
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.SlowQuery > 0 {
		log := cfg.Logger
		if log == nil {
			log = slog.Default()
		}
		pc.ConnConfig.Tracer = &slowQueryTracer{threshold: cfg.SlowQuery, log: log}
	}
	return pc, nil
}

func setIf[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return pool.Ping(ctx)
}

type traceKey struct{}

type traceStart struct {
	sql string
	at  time.Time
}

// slowQueryTracer пишет в лог запросы дольше threshold и упавшие запросы.
type slowQueryTracer struct {
	threshold time.Duration
	log       *slog.Logger
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{sql: data.SQL, at: time.Now()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	took := time.Since(st.at)
	switch {
	case data.Err != nil && ctx.Err() == nil:
		t.log.Debug("pg query failed", "sql", st.sql, "took", took, "err", data.Err)
	case took >= t.threshold:
		t.log.Warn("pg slow query", "sql", st.sql, "took", took, "rows", data.CommandTag.RowsAffected())
	}
}
