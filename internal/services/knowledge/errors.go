package knowledge

import "errors"

// ErrRemoteUnhealthy is returned by ForceRefresh when the bypass probe still
// reports the remote service as unreachable.
var ErrRemoteUnhealthy = errors.New("remote knowledge service unhealthy")
