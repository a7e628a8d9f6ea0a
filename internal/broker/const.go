package broker

const (
	ExchangeType = "topic"
	ContentType  = "text/plain"

	// Prefix of broker-assigned queue names.
	GeneratedQueuePrefix = "amq.gen-"
)
