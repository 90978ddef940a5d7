package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and operation names recorded by the checkout core.
const (
	CounterEvents       = "events"
	CounterPurchases    = "purchases"
	CounterFailures     = "failures"
	OperationPricing    = "pricing"
	OperationRail       = "rail"
	OperationConfirming = "confirming"
)
