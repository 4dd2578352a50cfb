// Package notification は通知ファンアウトエンジンの内部実装を提供する。
//
// 書き込み側で記録されたイベント（リビジョン作成・コメント投稿・ルームメッセージ投稿）を
// 1件ずつロックして取り出し、アクティブなユーザーを順に受信者ポリシーへ通して
// ユーザーごとの通知レコードを生成する。イベントの状態更新と通知の挿入は
// 1つの原子的な書き込みとしてコミットする。
//
// 主な構成要素:
//   - Processor: イベント処理器（ロック、ファンアウト、リトライ管理、コミット）
//   - ShouldNotify / DetermineReasons: 受信者ポリシー
//   - GroupNotifications: 表示用に隣接する同一対象の通知をまとめる
//   - Driver / Pruner: 処理器を繰り返し呼ぶポーリングループと期限切れ通知の削除
//   - Server: 通知一覧・既読管理・イベント記録のHTTP API
package notification
