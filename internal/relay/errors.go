package relay

import "errors"

// ErrTransportLost marks a teardown triggered by the client connection
// vanishing. It is logged as the stop cause and never sent back to the
// client, whose transport is already gone.
var ErrTransportLost = errors.New("transport lost")
