package llm

import "time"

// Backoff 带上限的指数退避，外加不超过一个基准间隔的随机抖动
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff 0.5s 起步，8s 封顶
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Cap: 8 * time.Second}
}

// Delay 第 attempt 次尝试失败后、下一次尝试前的等待时间。
// 结果为 min(Base*2^(attempt-1), Cap) + jitter*Base，jitter 取值 [0,1)。
func (b Backoff) Delay(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = 0.999999
	}

	delay := b.Base
	for i := 1; i < attempt && delay < b.Cap; i++ {
		delay *= 2
	}
	if delay > b.Cap {
		delay = b.Cap
	}
	return delay + time.Duration(jitter*float64(b.Base))
}
