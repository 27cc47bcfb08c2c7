package redisstream

// Field constants (avoid typos/allocs)
const (
	fieldID         = "id"
	fieldProducer   = "producer"
	fieldPayload    = "payload"   // raw []byte to reduce allocs (no base64)
	fieldTimestamp  = "timestamp" // int64 ns
	fieldPropPrefix = "prop:"
)
