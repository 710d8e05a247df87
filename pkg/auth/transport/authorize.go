package transport

// Authorize decides whether a peer that authenticated as authnID may act as
// authzID. Only acting as oneself is allowed. It returns the authorized id.
func Authorize(authnID, authzID string) (string, bool) {
	if authnID == "" || authnID != authzID {
		return "", false
	}
	return authzID, true
}
