package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/google/uuid"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// userIDFromPath parses the {userID} path value.
func userIDFromPath(r *http.Request, op string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("userID"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, domain.Invalid(op, "user id must be a UUID")
	}
	return id, nil
}

// quotaTypeFromPath parses the {type} path value.
func quotaTypeFromPath(r *http.Request, op string) (domain.QuotaType, error) {
	raw := r.PathValue("type")
	qt, ok := domain.ParseQuotaType(raw)
	if !ok {
		return "", domain.Errorf(domain.EINVALID, op, "unknown quota type %q", raw)
	}
	return qt, nil
}

// decodeJSON decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Invalid(op, "request body must be valid JSON")
	}
	return nil
}
