package endpoint

const (
	RoleProducer    = "producer"
	RoleTransformer = "transformer"
)

type ProducerState int

const (
	ProducerAwaitingInput ProducerState = iota
	ProducerEncoding
	ProducerSending
	ProducerAwaitingReply
	ProducerReporting
	ProducerClosed
)

func (s ProducerState) String() string {
	switch s {
	case ProducerAwaitingInput:
		return "awaiting_input"
	case ProducerEncoding:
		return "encoding"
	case ProducerSending:
		return "sending"
	case ProducerAwaitingReply:
		return "awaiting_reply"
	case ProducerReporting:
		return "reporting"
	case ProducerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type TransformerState int

const (
	TransformerAwaitingFrame TransformerState = iota
	TransformerDispatch
	TransformerMutating
	TransformerSending
	TransformerClosed
)

func (s TransformerState) String() string {
	switch s {
	case TransformerAwaitingFrame:
		return "awaiting_frame"
	case TransformerDispatch:
		return "dispatch"
	case TransformerMutating:
		return "mutating"
	case TransformerSending:
		return "sending"
	case TransformerClosed:
		return "closed"
	default:
		return "unknown"
	}
}
