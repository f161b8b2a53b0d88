package startup

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhub/internal/logger"
)

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
func ConnectDBWithRetry(poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) *pgxpool.Pool {
	var pool *pgxpool.Pool
	err := Retry(maxWait, logPrefix+"db", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		os.Exit(1)
	}
	return pool
}

// Retry вызывает fn с экспоненциальной задержкой (2s, удваивается до 30s), пока
// вызов не пройдёт или не истечёт maxWait.
func Retry(maxWait time.Duration, what string, fn func() error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s: gave up after %v: %v", what, maxWait, err)
			return err
		}
		logger.Errorf("%s: connect failed, retry in %v: %v", what, backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
