// Package middleware は通知サービスのHTTP APIで使用するGinミドルウェアを提供する。
//
// JWT認証トークンの検証とパニックリカバリを含む。
package middleware
