package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	PositionsRefreshed  Counter
	PriceUnavailable    Counter
	AlertsEmitted       Counter
	AlertsSuppressed    Counter
	StrategiesSelected  Counter
	NoStrategy          Counter
	PlansBuilt          Counter
	QuoteFallbacks      Counter
	ExecutionsSucceeded Counter
	ExecutionsFailed    Counter
	DuplicatePlans      Counter
	ReasoningFallbacks  Counter
	MailboxDrops        Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		PositionsRefreshed:  n,
		PriceUnavailable:    n,
		AlertsEmitted:       n,
		AlertsSuppressed:    n,
		StrategiesSelected:  n,
		NoStrategy:          n,
		PlansBuilt:          n,
		QuoteFallbacks:      n,
		ExecutionsSucceeded: n,
		ExecutionsFailed:    n,
		DuplicatePlans:      n,
		ReasoningFallbacks:  n,
		MailboxDrops:        n,
	}
}
