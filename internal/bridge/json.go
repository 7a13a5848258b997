package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const jsonBodyLimit = 64 * 1024

func decodeJSONBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
