package http

type SignInRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

type AddAlertRequest struct {
	Content string `json:"content" binding:"required"`
	// TargetTimestamp is UTC milliseconds, the wire format the mobile
	// clients already use.
	TargetTimestamp int64 `json:"targetTimestamp" binding:"required"`
}

type AddAlertResponse struct {
	ID string `json:"id"`
}

type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
