// Package lock は共有ストア上のキー付きTTLロックによる相互排他を提供する。
//
// ロックは(domain, key)で一意になり、期限切れでないロックが存在する間は
// 同じ(domain, key)を取得できない。保持者がクラッシュして解放されなかった
// ロックも、期限が切れれば再取得できる。期限の判定はStore実装が原子的に行う。
package lock
