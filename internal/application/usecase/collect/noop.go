package collect

import "coin/internal/application/port"

type noopMetrics struct{}

// NoopMetrics 不做任何统计（测试/未启用 metrics 时使用）
func NoopMetrics() port.Metrics { return noopMetrics{} }

func (noopMetrics) EventPublished(string) {}
func (noopMetrics) EventDropped(string) {}
func (noopMetrics) EventWritten(string) {}
func (noopMetrics) SubscriptionEnded(string) {}
