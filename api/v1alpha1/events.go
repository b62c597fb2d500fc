package v1alpha1

// EventCode is a lifecycle event normalized across entity kinds. Domain
// codes come from DomainEventCode; the network and storage pool watcher
// derives the same codes from listing diffs.
type EventCode string

const (
	EventDefined     EventCode = "Defined"
	EventUndefined   EventCode = "Undefined"
	EventStarted     EventCode = "Started"
	EventSuspended   EventCode = "Suspended"
	EventResumed     EventCode = "Resumed"
	EventStopped     EventCode = "Stopped"
	EventShutdown    EventCode = "Shutdown"
	EventPMSuspended EventCode = "PMSuspended"
	EventCrashed     EventCode = "Crashed"
	EventUnknown     EventCode = "Unknown"
)

// DomainEventCode maps a virDomainEventType value.
func DomainEventCode(code int32) EventCode {
	switch code {
	case 0:
		return EventDefined
	case 1:
		return EventUndefined
	case 2:
		return EventStarted
	case 3:
		return EventSuspended
	case 4:
		return EventResumed
	case 5:
		return EventStopped
	case 6:
		return EventShutdown
	case 7:
		return EventPMSuspended
	case 8:
		return EventCrashed
	default:
		return EventUnknown
	}
}
