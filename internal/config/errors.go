package config

import "errors"

// ErrConfig wraps every configuration load/parse/validate failure. main
// treats it as a fatal, non-zero-exit condition.
var ErrConfig = errors.New("config error")
