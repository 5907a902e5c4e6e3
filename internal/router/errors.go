package router

import (
	"fmt"

	"mobidoc/pkg/types"
)

// ErrRateLimitExceeded is returned when a sender outruns its message budget.
var ErrRateLimitExceeded = fmt.Errorf("%w: too many messages", types.ErrRateLimited)
