package tracker

import "github.com/google/wire"

// ProviderSet is the tracker providers.
var ProviderSet = wire.NewSet(New)
