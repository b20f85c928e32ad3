package domain

// ProviderState — фаза жизненного цикла провайдера эмбеддингов.
// Uninitialized → Loading → Ready, либо Failed (терминальное состояние).
type ProviderState int32

const (
	ProviderUninitialized ProviderState = iota
	ProviderLoading
	ProviderReady
	ProviderFailed
)

func (s ProviderState) String() string {
	switch s {
	case ProviderUninitialized:
		return "uninitialized"
	case ProviderLoading:
		return "loading"
	case ProviderReady:
		return "ready"
	case ProviderFailed:
		return "failed"
	default:
		return "unknown"
	}
}
