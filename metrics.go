// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext

import "context"

// Metric hooks allow callers, such as the access gate, to report
// permission decisions to a metrics system without this module
// depending on one.

// CounterInc increments a counter, for example the number of requests
// allowed because access to their URL has been granted.
type CounterInc func(ctx context.Context)

// CounterVecInc increments a counter for the supplied labels, for example
// the number of requests denied labelled by the permission state of
// their URL.
type CounterVecInc func(ctx context.Context, labels ...string)
