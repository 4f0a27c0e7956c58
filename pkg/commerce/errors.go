package commerce

import (
	"errors"
	"fmt"
	"time"
)

// ThrottledError はリトライ上限まで待機してもスロットリングが解消されなかったことを表します。
type ThrottledError struct {
	Attempts   int           // 実行した呼び出し回数
	LastWait   time.Duration // 最後に算出した待機時間
	RetryAfter time.Duration // サーバーから最後に提示された待機時間 (無ければ0)
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("remote API throttled after %d attempts (last wait %s)", e.Attempts, e.LastWait)
}

// RemoteError はスロットリング以外のリモートAPIエラーです。呼び出し単位で致命的に扱います。
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote API error (status: %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote API error: %s", e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsThrottled reports whether err (or anything it wraps) is a ThrottledError.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// IsRemoteError reports whether err (or anything it wraps) is a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
