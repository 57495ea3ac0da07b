package model

import "errors"

// ErrTransient marks retrieval or judgment failures worth one retry
// (unreachable service, rate limit, 5xx).
var ErrTransient = errors.New("transient service error")
