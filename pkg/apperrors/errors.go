package apperrors

import (
	"errors"
	"fmt"
)

// Code はユーザー/呼び出し元に返す安定したエラーコード
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeProcessing Code = "PROCESSING_ERROR"
	CodeSearch     Code = "SEARCH_ERROR"
	CodeGeneration Code = "GENERATION_ERROR"
	CodeRateLimit  Code = "RATE_LIMITED"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Error はエラーコードと人間向けメッセージを持つアプリケーションエラー
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返します
func (e *Error) Unwrap() error {
	return e.cause
}

// Is はエラーコードが一致するかで同一性を判定します
func (e *Error) Is(target error) bool {
	var appErr *Error
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

// New は原因エラーなしのアプリケーションエラーを作成します
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap は原因エラーをラップしたアプリケーションエラーを作成します
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf はエラーからエラーコードを取り出します。
// アプリケーションエラーでない場合は INTERNAL_ERROR を返します。
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// 代表的なエラー条件の判定ヘルパー

// IsValidation は入力検証エラーかどうかを判定します
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsNotFound は対象が存在しないエラーかどうかを判定します
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsRateLimited はレート制限エラーかどうかを判定します
func IsRateLimited(err error) bool { return CodeOf(err) == CodeRateLimit }
