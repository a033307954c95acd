package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// nicknameMaxLength はメーターのニックネームの最大長。
const nicknameMaxLength = 64

// TextSanitizerService はユーザー入力およびスクレイピング結果の
// テキストサニタイズ機能のインターフェースを定義する。
// チャットで受信したニックネームや表示名、ポータルHTMLから抽出した
// 文字列は信頼できない入力として扱い、保存・再送信の前に必ず通す。
type TextSanitizerService interface {
	// SanitizeLine はテキストから全てのHTMLマークアップを除去し、
	// 改行・タブを単一スペースに畳み込んだ1行のプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeLine(raw string) string

	// SanitizeNickname はメーターのニックネーム用にSanitizeLineを適用し、
	// さらに最大長で切り詰める。空になった場合は空文字列を返す。
	SanitizeNickname(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// チャット返信はプレーンテキストとして送信するため、許可タグは一切ない。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeLine はテキストから全てのHTMLマークアップを除去し、
// 1行のプレーンテキストを返す。
func (s *textSanitizer) SanitizeLine(raw string) string {
	cleaned := s.policy.Sanitize(raw)
	// bluemondayはHTMLエンティティでエスケープするため元に戻す
	cleaned = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&#34;", `"`,
		"&#39;", "'",
	).Replace(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// SanitizeNickname はニックネーム用のサニタイズを行う。
func (s *textSanitizer) SanitizeNickname(raw string) string {
	cleaned := s.SanitizeLine(raw)
	if len(cleaned) > nicknameMaxLength {
		cleaned = strings.TrimSpace(cleaned[:nicknameMaxLength])
	}
	return cleaned
}

// compile-time interface check
var _ TextSanitizerService = (*textSanitizer)(nil)
