package assistant

// AskRequest is the body of POST /ask
type AskRequest struct {
	Question string `json:"question"`
}

// askResponse is the raw body of a successful /ask call. Answer is a
// pointer so a missing field can be told apart from an empty answer.
// The service omits "images" when it has none.
type askResponse struct {
	Answer *string  `json:"answer"`
	Images []string `json:"images"`
}

// Answer is a validated reply
type Answer struct {
	Text   string
	Images []string // base64-encoded PNG payloads
}
