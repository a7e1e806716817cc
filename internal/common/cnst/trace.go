package cnst

// Tracer names used across the service
const (
	// TraceBroker is the tracer name for delivery logic
	TraceBroker = "pigeon/broker"
	// TraceServer is the tracer name for the HTTP layer
	TraceServer = "pigeon/server"
)

// Span names
const (
	SpanConnect = "pigeon.connect"
	SpanSend    = "pigeon.send"
	SpanPush    = "pigeon.push"
)

// Attribute keys
const (
	AttrSessionID   = "pigeon.session_id"
	AttrSenderID    = "pigeon.sender_id"
	AttrTargetID    = "pigeon.target_id"
	AttrEcho        = "pigeon.echo"
	AttrOutcome     = "pigeon.outcome"
	AttrClientAddr  = "client.remote_addr"
	AttrErrorReason = "error.reason"
)
