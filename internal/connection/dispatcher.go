package connection

// Dispatcher fans the single message-consumer callback out to per-type
// handlers. Pong frames never reach it; the Manager consumes them upstream.
type Dispatcher struct {
	onChat    func(Message)
	onStatus  func(Message)
	onSystem  func(Message)
	onError   func(Message)
	onUnknown func(Message)
}

func (d *Dispatcher) SetOnChat(fn func(Message))    { d.onChat = fn }
func (d *Dispatcher) SetOnStatus(fn func(Message))  { d.onStatus = fn }
func (d *Dispatcher) SetOnSystem(fn func(Message))  { d.onSystem = fn }
func (d *Dispatcher) SetOnError(fn func(Message))   { d.onError = fn }
func (d *Dispatcher) SetOnUnknown(fn func(Message)) { d.onUnknown = fn }

// Dispatch routes one inbound message to its registered handler. Suitable for
// passing directly to Manager.OnMessage.
func (d *Dispatcher) Dispatch(msg Message) {
	switch msg.Type {
	case TypeMessage:
		if d.onChat != nil {
			d.onChat(msg)
		}
	case TypeStatus:
		if d.onStatus != nil {
			d.onStatus(msg)
		}
	case TypeSystem:
		if d.onSystem != nil {
			d.onSystem(msg)
		}
	case TypeError:
		if d.onError != nil {
			d.onError(msg)
		}
	default:
		if d.onUnknown != nil {
			d.onUnknown(msg)
		}
	}
}
