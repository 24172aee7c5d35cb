package httpapi

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/modoterra/telesink/pkg/codec"
)

type format int

const (
	formatJSON format = iota
	formatCBOR
	formatMsgpack
)

// negotiate picks the response encoding from the Accept header. The first
// supported media type listed wins; JSON is the default.
func negotiate(r *http.Request) format {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case codec.ContentTypeCBOR:
			return formatCBOR
		case codec.ContentTypeMsgpack, "application/x-msgpack":
			return formatMsgpack
		case codec.ContentTypeJSON:
			return formatJSON
		}
	}
	return formatJSON
}

func (a *API) writeNegotiated(w http.ResponseWriter, r *http.Request, v any) {
	var (
		data []byte
		err  error
		ct   string
	)
	switch negotiate(r) {
	case formatCBOR:
		data, err = codec.MarshalCBOR(v)
		ct = codec.ContentTypeCBOR
	case formatMsgpack:
		data, err = codec.MarshalMsgpack(v)
		ct = codec.ContentTypeMsgpack
	default:
		writeJSON(w, http.StatusOK, v)
		return
	}
	if err != nil {
		a.logger.Error("encode response", "err", err, "content_type", ct)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Add("Vary", "Accept")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", codec.ContentTypeJSON)
	w.WriteHeader(status)
	w.Write(data)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
