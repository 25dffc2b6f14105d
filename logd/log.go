package logd

import (
	"github.com/golang/glog"
)

// Logging convention in the `logd` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - transport errors and closes
//     - protocol `error` frames
//     - reconnects
// Warning:
//     unexpected panics even if handled and suppressed for partial operation
// Error:
//     malformed session rejected by the server
// V(1):
//     key events for trace debugging, with the client instance id to filter
// V(2):
//     each frame in and out
//
// Tags:
//     [c] client lifecycle
//     [q] request queue
//     [d] frame dispatch
//     [o] observers
//     [s] storage
//     [t] transport

const (
	LogLevelDebug glog.Level = 1
	LogLevelTrace glog.Level = 2
)
