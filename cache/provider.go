package cache

import "github.com/google/wire"

// ProviderSet is the cache providers.
var ProviderSet = wire.NewSet(New)
