package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/modoterra/telesink/pkg/core"
)

func (a *API) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sink.Stats())
}

func (a *API) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReceiveLogs(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r)
	if err != nil {
		a.bodyError(w, err)
		return
	}
	a.sink.AppendLog(r.Context(), core.DecodeText(body), a.target)
	writeText(w, http.StatusOK, AckLogsReceived)
}

func (a *API) handleReceiveData(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r)
	if err != nil {
		a.bodyError(w, err)
		return
	}

	_, err = a.sink.AppendSample(r.Context(), body, r.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, core.ErrInvalidShape):
		writeText(w, http.StatusBadRequest, MsgInvalidShape)
		return
	case err != nil:
		a.logger.Warn("sample rejected", "err", err, "remote", r.RemoteAddr)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, http.StatusOK, AckDataReceived)
}

func (a *API) handleGetLogs(seq core.Sequence) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines, err := a.sink.Lines(seq)
		if err != nil {
			writeText(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.writeNegotiated(w, r, lines)
	}
}

func (a *API) handleGetData(w http.ResponseWriter, r *http.Request) {
	samples := a.sink.Samples()
	if negotiate(r) == formatJSON {
		if samples == nil {
			samples = []core.Sample{}
		}
		writeJSON(w, http.StatusOK, samples)
		return
	}

	values := make([][]any, 0, len(samples))
	for _, s := range samples {
		v, err := s.Values()
		if err != nil {
			writeText(w, http.StatusInternalServerError, err.Error())
			return
		}
		values = append(values, v)
	}
	a.writeNegotiated(w, r, values)
}

func (a *API) handleClear(seq core.Sequence, ack string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.sink.Clear(r.Context(), seq); err != nil {
			writeText(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeText(w, http.StatusOK, ack)
	}
}

func (a *API) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if a.sink.RequestShutdown() {
		a.logger.Info("shutdown requested", "remote", r.RemoteAddr)
	}
	writeText(w, http.StatusOK, AckShutdown)
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
}

func (a *API) bodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeText(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	a.logger.Warn("read request body", "err", err)
	writeText(w, http.StatusBadRequest, err.Error())
}
