// Package audit はアカウント操作の監査ログを提供する。
package audit

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Severity は監査イベントの重要度。
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
)

// String は重要度の表記を返す。
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityNotice:
		return "notice"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// カテゴリ
const (
	CategorySession = "session"
)

// Sink は監査イベントの記録先。
// 記録は投げっぱなしで、失敗しても呼び出し側の処理は継続する。
type Sink interface {
	Record(message, category string, severity Severity)
}

// ZerologSink はzerologで1イベント1行のJSONを出力するSink。
type ZerologSink struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewZerologSink は指定の出力先に書き込むZerologSinkを生成する。
func NewZerologSink(w io.Writer) *ZerologSink {
	return &ZerologSink{
		logger: zerolog.New(w).With().Str("log_type", "audit").Logger(),
		now:    time.Now,
	}
}

// Record は監査イベントを1行出力する。
func (s *ZerologSink) Record(message, category string, severity Severity) {
	s.logger.Log().
		Time("timestamp", s.now().UTC()).
		Str("category", category).
		Str("severity", severity.String()).
		Msg(message)
}

// NopSink は何も記録しないSink。
type NopSink struct{}

// Record は何もしない。
func (NopSink) Record(string, string, Severity) {}

// multiSink は複数のSinkに同じイベントを記録する。
type multiSink []Sink

// Multi は全てのsinksに記録するSinkを返す。nilは無視する。
func Multi(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Record は各Sinkに順に記録する。
func (m multiSink) Record(message, category string, severity Severity) {
	for _, s := range m {
		s.Record(message, category, severity)
	}
}

var (
	_ Sink = (*ZerologSink)(nil)
	_ Sink = NopSink{}
	_ Sink = multiSink(nil)
)
