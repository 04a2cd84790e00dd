package membership

import "errors"

// ErrUnknownServerId is returned by lookups that miss.
var ErrUnknownServerId = errors.New("membership: unknown server id")
