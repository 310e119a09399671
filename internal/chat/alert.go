package chat

// AlertKind is the failure category shown to the user
type AlertKind int

const (
	AlertAsk AlertKind = iota
	AlertSave
	AlertDelete
	AlertLoad
	AlertRecovered
)

var alertMessages = map[AlertKind]string{
	AlertAsk:       "Failed to fetch the answer. Please try again.",
	AlertSave:      "Failed to save the chat. Please try again.",
	AlertDelete:    "Failed to delete the chat. Please try again.",
	AlertLoad:      "Failed to load saved chats.",
	AlertRecovered: "Saved chats were damaged. Unreadable chats were set aside.",
}

// Alert is a dismissible, user-visible failure. Err carries the cause for
// logs; the UI shows Message.
type Alert struct {
	Kind AlertKind
	Err  error
}

// Message returns the static text for the alert's category
func (a Alert) Message() string {
	if msg, ok := alertMessages[a.Kind]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// Messages shown after successful actions
const (
	SavedMessage   = "Chat saved successfully!"
	DeletedMessage = "Chat deleted successfully!"
)
