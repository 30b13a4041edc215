package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"eventhub/globals"
	"eventhub/models"
)

const maxBodyBytes = 1 << 20

func GetUserIDFromRequest(r *http.Request) string {
	userID, ok := r.Context().Value(globals.UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetPrincipal returns the caller identity placed in the request context by
// middleware.Authenticate. It is the zero Principal for anonymous requests.
func GetPrincipal(r *http.Request) models.Principal {
	roles, _ := r.Context().Value(globals.RoleKey).([]string)
	return models.Principal{ID: GetUserIDFromRequest(r), Roles: roles}
}

// DecodeJSON reads a size-limited JSON body into v and runs struct
// validation on it.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return Validate(v)
}
