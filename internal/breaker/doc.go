// Package breaker реализует circuit breaker для внешних зависимостей робота.
//
// Состояния:
//
//	CLOSED ──(N сбоев подряд)──► OPEN ──(OpenTimeout)──► HALF_OPEN
//	  ▲                                                    │
//	  └────────(проба успешна)◄─────────────────────────────┤
//	                                   (проба неудачна)─► OPEN
//
// В OPEN запросы отклоняются мгновенно (ErrOpen) — без таймаутов и
// без нагрузки на умирающую зависимость. Каждая именованная зависимость
// получает собственный breaker через Registry: деградация одной не
// блокирует вызовы остальных.
package breaker
