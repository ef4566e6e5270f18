package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleWriter    Role = "writer"
	RoleEditor    Role = "editor"
	RolePublisher Role = "publisher"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionApprove  Action = "approve"
	ActionPublish  Action = "publish"
	ActionMaintain Action = "maintain"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePublisher:
		return action != ActionMaintain
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionApprove
	case RoleWriter:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleWriter, RoleEditor, RolePublisher, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
