package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"authcore/pkg/oauth2err"
)

// errorBody is the JSON error envelope. The error field carries the OAuth2
// category; error_description concatenates up to the two outermost messages of
// the causal chain.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	messages := oauth2err.Messages(err)
	if len(messages) > 2 {
		messages = messages[:2]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauth2err.Status(err))
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:            string(oauth2err.CategoryOf(err)),
		ErrorDescription: strings.Join(messages, " - "),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
