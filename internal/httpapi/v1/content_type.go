package v1

import (
	"mime"
	"net/http"
	"strings"
)

// requireJSON accepts application/json bodies in UTF-8, the only encoding the
// settlement and record payloads are read in. It writes 415 otherwise.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		writeErr(w, http.StatusUnsupportedMediaType, "body must be application/json", "unsupported_media_type")
		return false
	}
	if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") {
		writeErr(w, http.StatusUnsupportedMediaType, "body must be UTF-8 encoded", "unsupported_media_type")
		return false
	}
	return true
}
