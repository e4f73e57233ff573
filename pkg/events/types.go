package events

const (
	EVENT_EVM_DEPOSIT    = "Evm.Deposit"
	EVENT_NATIVE_DEPOSIT = "MySo.Deposit"
)

// EventEnvelope carries a detected event to the processors subscribed to its type.
// Data is *types.EvmDepositEvent or *types.NativeDepositEvent.
type EventEnvelope struct {
	EventType   string
	SourceChain string
	Data        interface{}
}
