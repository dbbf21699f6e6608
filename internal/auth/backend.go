package auth

// Conversation answers the backend's prompts. Calls block until the UI
// responds or authentication is cancelled, in which case ErrAborted is
// returned.
type Conversation interface {
	PromptEcho(msg string) (string, error)
	PromptBlind(msg string) (string, error)
	Info(msg string) error
	Error(msg string) error
}

// Backend opens authentication sessions for a service and user.
type Backend interface {
	Open(service, user string, conv Conversation) (Session, error)
}

// Session is a single blocking authentication attempt.
type Session interface {
	Authenticate() error
	Close() error
}
