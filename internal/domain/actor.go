package domain

// ActorContext identifies the member on whose behalf an operation runs.
// It is resolved by the transport layer and passed explicitly to services.
type ActorContext struct {
	UserID int32 `json:"user_id"`
	Board  bool  `json:"board"`
}

// RequireBoard returns a PermissionError unless the actor holds the board role.
func (a ActorContext) RequireBoard(action string) error {
	if !a.Board {
		return &PermissionError{Action: action, Reason: "board role required"}
	}
	return nil
}

// RequireMember returns a PermissionError for an anonymous actor.
func (a ActorContext) RequireMember(action string) error {
	if a.UserID <= 0 {
		return &PermissionError{Action: action, Reason: "member identity required"}
	}
	return nil
}
