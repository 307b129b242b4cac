package builtins

import "quantdesk/internal/strategy"

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(SMACrossName, NewSMACrossFromParams)
	r.Register(RSIThresholdName, NewRSIThresholdFromParams)
}

// NewRegistry returns a registry pre-populated with the built-ins.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
