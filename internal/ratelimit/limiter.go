// Package ratelimit は Redis 上の固定ウィンドウカウンターによるリクエスト数制限を提供します。
//
// 既定の実装は「読み取り→比較→count+1 を書き込み」の順で処理するため、
// 同じウィンドウに同時に到着したリクエストは同じ値を読んで過少計上することがあります。
// 厳密な上限が必要な場合は WithAtomic で INCR ベースに切り替えます。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable はカウンターストアにアクセスできない場合に返されます。
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// DefaultGrace はキーのTTLに上乗せする猶予です。
const DefaultGrace = 15 * time.Second

const keyPrefix = "ratelimit"

// Policy は1つの制限スコープの上限とウィンドウ長です。
type Policy struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Decision は判定結果です。Reset は現在のウィンドウが終わるまでの秒数（切り上げ）です。
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     int
}

// Recorder は判定結果の記録先です。
type Recorder interface {
	RateLimitDecision(ctx context.Context, scope string, allowed bool)
}

// Limiter は固定ウィンドウでリクエスト数を制限します。
type Limiter struct {
	client   redis.UniversalClient
	grace    time.Duration
	atomic   bool
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
}

// Option は Limiter の設定を変更します。
type Option func(*Limiter)

// WithGrace はTTLの猶予を設定します。DefaultGrace 未満は DefaultGrace に切り上げます。
func WithGrace(grace time.Duration) Option {
	return func(l *Limiter) {
		if grace > DefaultGrace {
			l.grace = grace
		}
	}
}

// WithAtomic は INCR + EXPIRE によるカウントに切り替えます。
func WithAtomic(atomic bool) Option {
	return func(l *Limiter) { l.atomic = atomic }
}

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger はストア障害時のログ出力先を設定します。
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithRecorder は判定結果の記録先を設定します。
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) { l.recorder = r }
}

// New は Limiter を作成します。
func New(client redis.UniversalClient, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		grace:  DefaultGrace,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow は policy のウィンドウ内で parts が識別するクライアントを通してよいかを判定します。
func (l *Limiter) Allow(ctx context.Context, policy Policy, parts ...string) (Decision, error) {
	windowMs := policy.Window.Milliseconds()
	if windowMs <= 0 || policy.Limit <= 0 {
		return Decision{}, fmt.Errorf("invalid rate limit policy %q", policy.Scope)
	}

	nowMs := l.now().UnixMilli()
	index := nowMs / windowMs
	key := Key(policy.Scope, index, parts...)
	ttl := policy.Window + l.grace

	d := Decision{
		Limit: policy.Limit,
		Reset: resetSeconds(nowMs, index, windowMs),
	}

	var err error
	if l.atomic {
		err = l.incr(ctx, key, ttl, policy.Limit, &d)
	} else {
		err = l.readThenWrite(ctx, key, ttl, policy.Limit, &d)
	}
	if err != nil {
		return Decision{}, err
	}

	if l.recorder != nil {
		l.recorder.RateLimitDecision(ctx, policy.Scope, d.Allowed)
	}
	return d, nil
}

func (l *Limiter) readThenWrite(ctx context.Context, key string, ttl time.Duration, limit int, d *Decision) error {
	count, err := l.client.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if count >= limit {
		d.Allowed = false
		d.Remaining = 0
		return nil
	}

	if err := l.client.Set(ctx, key, count+1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	d.Allowed = true
	d.Remaining = limit - (count + 1)
	return nil
}

func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration, limit int, d *Decision) error {
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	count := int(incr.Val())
	if count > limit {
		d.Allowed = false
		d.Remaining = 0
		return nil
	}
	d.Allowed = true
	d.Remaining = limit - count
	return nil
}

// Key はカウンターのキーを組み立てます。
func Key(scope string, windowIndex int64, parts ...string) string {
	segments := make([]string, 0, len(parts)+3)
	segments = append(segments, keyPrefix, scope)
	segments = append(segments, parts...)
	segments = append(segments, strconv.FormatInt(windowIndex, 10))
	return strings.Join(segments, ":")
}

func resetSeconds(nowMs, index, windowMs int64) int {
	remainingMs := (index+1)*windowMs - nowMs
	return int((remainingMs + 999) / 1000)
}
