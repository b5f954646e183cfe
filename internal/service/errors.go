package service

import "gitlab.com/distributed_lab/logan/v3/errors"

// ErrInvalidChainData is returned for chain values that can never be mirrored
// (negative or oversized counts, unparsable ids). It is not retried.
var ErrInvalidChainData = errors.New("invalid chain data")
