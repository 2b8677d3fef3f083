package ann

import (
	"fmt"

	"github.com/vretrieve/engine/internal/domain"
)

// New constructs an empty index for the given backend tag: a closed set
// of known names dispatched through a switch, never reflection or a
// plugin registry.
func New(backend domain.BackendType, cfg Config) (Index, error) {
	switch backend {
	case domain.BackendFlat:
		return NewFlatIndex(cfg), nil
	case domain.BackendIVF:
		return NewIVFIndex(cfg), nil
	case domain.BackendIVFPQ:
		return NewIVFPQIndex(cfg), nil
	case domain.BackendHNSW:
		return NewHNSWIndex(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ann backend: %q", backend)
	}
}
