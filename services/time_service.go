package services

import "time"

// 末尾の0を省略しない（文字列順と時刻順を一致させる）
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp は会話ログのソートキー形式（UTC、ナノ秒固定長）にする
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
