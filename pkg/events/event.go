package events

// ObjectRef identifies a game object (a character, a room) outside the
// script engine. The empty reference means nobody.
type ObjectRef string

// Nobody is the recipient of broadcast events.
const Nobody ObjectRef = ""

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText       EventType = iota // Raw text (universal fallback)
	EvPrint                       // print() output, for the script author
	EvMessage                     // character.msg()
	EvSay                         // character.say(), heard in the room
	EvScriptDone                  // Execution halted normally
	EvScriptWait                  // Execution suspended
	EvScriptError                 // Execution failed
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvPrint:
		return "print"
	case EvMessage:
		return "message"
	case EvSay:
		return "say"
	case EvScriptDone:
		return "script_done"
	case EvScriptWait:
		return "script_wait"
	case EvScriptError:
		return "script_error"
	default:
		return "unknown"
	}
}

// Event is a side effect of a script that flows through the event bus.
// Transports decide how to encode each event: the console sends Text,
// the daemon log uses the structured data.
type Event struct {
	Type      EventType
	Player    ObjectRef      // Recipient (Nobody for broadcast)
	Source    ObjectRef      // Who generated the event
	Room      ObjectRef      // Room context
	Script    string         // Script name
	Execution string         // Execution id, when run by the scheduler
	Text      string         // Pre-formatted text
	Data      map[string]any // Structured data for JSON clients
}
