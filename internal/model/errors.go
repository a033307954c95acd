// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrIdentityExists は(channel, external_id)の一意制約違反を表すセンチネルエラー。
// 同一ハンドルからの並行初回メッセージで発生し、呼び出し元は再取得で回復する。
var ErrIdentityExists = errors.New("channel identity already exists")

// ValidationError は不正なユーザー入力を表す。
// 会話エンジン内で常にユーザー向けの再プロンプトに変換され、
// 呼び出し元へハードエラーとして伝播することはない。
type ValidationError struct {
	Message string // ユーザーにそのまま表示されるメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// FetchError はプロバイダへのネットワークレベルの到達失敗を表す。
// 対話パスでは「後で再試行」のメッセージに変換され、
// スイープパスでは記録せずスキップして次のティックで再訪される。
type FetchError struct {
	Op  string // 失敗した操作（例: "get panel", "post form"）
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	return fmt.Sprintf("provider fetch failed (%s): %v", e.Op, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError はFetchErrorを生成する。
func NewFetchError(op string, err error) *FetchError {
	return &FetchError{Op: op, Err: err}
}

// ParseError はプロバイダページの形式を認識できなかったことを表す。
// FetchErrorと区別して返すことで、上流側の破壊的変更を運用者が検知できる。
type ParseError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	return "provider page parse failed: " + e.Reason
}

// NewParseError はParseErrorを生成する。
func NewParseError(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// DispatchError はチャットプラットフォームへの送信失敗を表す。
// ブロードキャストではカウントされるのみで致命傷にはならない。
type DispatchError struct {
	Channel Channel
	Handle  string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s/%s failed: %v", e.Channel, e.Handle, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError はDispatchErrorを生成する。
func NewDispatchError(channel Channel, handle string, err error) *DispatchError {
	return &DispatchError{Channel: channel, Handle: handle, Err: err}
}

// StorageError は永続化層の失敗を表す。現在の操作に対して致命的であり、
// 一般的な失敗メッセージとしてユーザーに通知され、黙って握りつぶされることはない。
type StorageError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation failed (%s): %v", e.Op, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError はStorageErrorを生成する。
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsValidationError はエラーチェーンにValidationErrorが含まれるかを返す。
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsFetchError はエラーチェーンにFetchErrorが含まれるかを返す。
func IsFetchError(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}

// IsParseError はエラーチェーンにParseErrorが含まれるかを返す。
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsDispatchError はエラーチェーンにDispatchErrorが含まれるかを返す。
func IsDispatchError(err error) bool {
	var target *DispatchError
	return errors.As(err, &target)
}

// IsStorageError はエラーチェーンにStorageErrorが含まれるかを返す。
func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
