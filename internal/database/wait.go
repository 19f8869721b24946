package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WaitConfig は依存先の起動待ちの設定。
type WaitConfig struct {
	Attempts       int           // 最大試行回数
	InitialBackoff time.Duration // 初回の待ち時間
	MaxBackoff     time.Duration // 待ち時間の上限
}

// DefaultWaitConfig は初回500ms、2倍ずつ増加、最大8秒で6回まで試行する。
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Attempts:       6,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// Backoff は失敗回数に基づいて指数バックオフ遅延を計算する。
func (c WaitConfig) Backoff(failures int) time.Duration {
	delay := c.InitialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return delay
}

// WaitFor はpingが成功するまで指数バックオフで再試行する。
// コンテナ同時起動時にDB・Redisの準備が整うのを待つために使う。
func WaitFor(ctx context.Context, name string, cfg WaitConfig, ping func(context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		delay := cfg.Backoff(attempt)
		slog.Warn("dependency not ready, retrying",
			slog.String("dependency", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s not ready after %d attempts: %w", name, cfg.Attempts, err)
}
