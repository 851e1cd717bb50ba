// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はニックネーム・書類種別・否認理由など
// ユーザーおよび管理者が入力するテキストフィールドをサニタイズし、
// 保存されたマークアップが審査UIやアプリ画面で実行されることを防ぐ。
// bluemondayのStrictPolicyにより全てのHTMLタグが除去される。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストのサニタイズ機能のインターフェースを定義する。
// プロファイル保存前および審査決定の保存前に使用される。
type TextSanitizerService interface {
	// Sanitize は入力から全てのHTMLタグを除去し、前後の空白を正規化して返す。
	// script, iframe, styleタグおよびon*イベント属性を含む全マークアップが除去される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、全てのマークアップが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力から全てのHTMLタグを除去し、前後の空白を正規化して返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
