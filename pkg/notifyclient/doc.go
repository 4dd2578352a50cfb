// Package notifyclient は通知サービスへイベントを記録するためのHTTPクライアントを提供する。
//
// ドキュメント・コメント・ルームの各サービスは、コンテンツを作成した直後に
// このクライアントでイベントを記録する。通知の生成はワーカーが非同期に行うため、
// 記録が成功した時点ではまだ誰にも通知されていない。
package notifyclient
