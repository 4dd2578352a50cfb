// Package config は通知サービスとワーカーの設定を読み込む。
//
// カレントディレクトリに.envがあれば先に読み込み、その後に環境変数から値を取得する。
// 既に設定されている環境変数は.envで上書きされない。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はプロセス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// JWTSecret はJWTの署名検証に使う秘密鍵。
	JWTSecret string
	// SQLitePath はSQLiteのデータベースファイルのパス。MongoURIが空の場合に使う。
	SQLitePath string
	// MongoURI はMongoDBの接続URI。設定されていればSQLiteの代わりにMongoDBを使う。
	MongoURI string
	// MongoDatabase はMongoDBのデータベース名。
	MongoDatabase string
	// RedisAddr はRedisのアドレス。設定されていればロックをRedisで管理する。
	RedisAddr string
	// RedisKeyPrefix はRedisのキーの接頭辞。
	RedisKeyPrefix string
	// PollInterval は未処理イベントがないときのポーリング間隔。
	PollInterval time.Duration
	// PruneInterval は期限切れ通知を削除する間隔。
	PruneInterval time.Duration
	// MaxAttempts はイベント処理の最大試行回数。
	MaxAttempts int
	// Retention は通知の保持期間。
	Retention time.Duration
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string
}

// UseMongo はMongoDBをストアとして使う設定であればtrueを返す。
func (c *Config) UseMongo() bool {
	return c.MongoURI != ""
}

// UseRedisLock はRedisでロックを管理する設定であればtrueを返す。
func (c *Config) UseRedisLock() bool {
	return c.RedisAddr != ""
}

// Load は.envと環境変数から設定を読み込む。
func Load() (*Config, error) {
	// .envが無いのは正常
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

// fromEnv はgetenvで取得した値から設定を組み立てる。
func fromEnv(getenv func(string) string) (*Config, error) {
	getEnvOr := func(key, defaultValue string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultValue
	}

	cfg := &Config{
		Port:           getEnvOr("PORT", "8086"),
		JWTSecret:      getEnvOr("JWT_SECRET", "dev-secret-key"),
		SQLitePath:     getEnvOr("SQLITE_PATH", "notification.db"),
		MongoURI:       getenv("MONGO_URI"),
		MongoDatabase:  getEnvOr("MONGO_DATABASE", "notifier"),
		RedisAddr:      getenv("REDIS_ADDR"),
		RedisKeyPrefix: getEnvOr("REDIS_KEY_PREFIX", "notifier:"),
		LogLevel:       getEnvOr("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollInterval, err = parseDuration("POLL_INTERVAL", getEnvOr("POLL_INTERVAL", "2s")); err != nil {
		return nil, err
	}
	if cfg.PruneInterval, err = parseDuration("PRUNE_INTERVAL", getEnvOr("PRUNE_INTERVAL", "1h")); err != nil {
		return nil, err
	}
	if cfg.Retention, err = parseDuration("NOTIFICATION_RETENTION", getEnvOr("NOTIFICATION_RETENTION", "720h")); err != nil {
		return nil, err
	}

	maxAttempts := getEnvOr("MAX_ATTEMPTS", "3")
	cfg.MaxAttempts, err = strconv.Atoi(maxAttempts)
	if err != nil || cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTSは1以上の整数で指定してください: %q", maxAttempts)
	}
	return cfg, nil
}

// parseDuration は正の時間間隔を解析する。
func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%sの解析に失敗: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%sは正の値で指定してください: %q", key, value)
	}
	return d, nil
}
