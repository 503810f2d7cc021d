package pipeline

import "github.com/google/wire"

// ProviderSet is the pipeline providers.
var ProviderSet = wire.NewSet(NewRunner)
