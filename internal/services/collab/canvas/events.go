package canvas

// Wire event types. The first three are persisted to the event log.
const (
	EventCollaboratorChange = "collaborator_change"
	EventElementsChanged    = "elements_changed"
	EventFullSync           = "full_sync"
	EventSaveRoom           = "save_room"

	EventCollaboratorLeft = "collaborator_left"
	EventLoginRequired    = "login_required"

	EventResetScene    = "reset_scene"
	EventStartReplay   = "start_replay"
	EventPauseReplay   = "pause_replay"
	EventRestartReplay = "restart_replay"
)

// IsLogged reports whether events of this type are appended to the event log.
func IsLogged(eventType string) bool {
	switch eventType {
	case EventCollaboratorChange, EventElementsChanged, EventFullSync:
		return true
	default:
		return false
	}
}
