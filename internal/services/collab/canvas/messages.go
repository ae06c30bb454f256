package canvas

import "encoding/json"

// ControlMessage is an outbound event with no fields besides its type.
type ControlMessage struct {
	EventType string `json:"eventtype"`
}

// ElementsMessage carries an element collection for elements_changed and
// full_sync.
type ElementsMessage struct {
	EventType string          `json:"eventtype"`
	Elements  json.RawMessage `json:"elements"`
}

// ChangesMessage carries collaborator changes.
type ChangesMessage struct {
	EventType string   `json:"eventtype"`
	Changes   []Change `json:"changes"`
}

// Collaborator identifies a peer by pseudonym.
type Collaborator struct {
	UserRoomID string `json:"userRoomId"`
}

// CollaboratorLeftMessage tells peers that a session ended.
type CollaboratorLeftMessage struct {
	EventType    string       `json:"eventtype"`
	Collaborator Collaborator `json:"collaborator"`
}

// Control builds a ControlMessage.
func Control(eventType string) ControlMessage {
	return ControlMessage{EventType: eventType}
}

// CollaboratorLeft builds the message announcing that userRoomID left.
func CollaboratorLeft(userRoomID string) CollaboratorLeftMessage {
	return CollaboratorLeftMessage{
		EventType:    EventCollaboratorLeft,
		Collaborator: Collaborator{UserRoomID: userRoomID},
	}
}
