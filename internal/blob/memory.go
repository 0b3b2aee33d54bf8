package blob

import (
	memorystore "campaigncore/internal/infra/blob/memory"
)

// NewMemory returns an empty in-process Store.
func NewMemory() Store { return memorystore.New() }
