package pmnotify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// PathPrefix is where Handler is mounted.
const PathPrefix = "/pm"

type listing struct {
	Listeners   []string        `json:"listeners"`
	Diagnostics map[string]bool `json:"diagnostics"`
}

type vetoResponse struct {
	Event    string `json:"event"`
	Listener string `json:"listener"`
	Position int    `json:"position"`
	Error    string `json:"error"`
}

// Handler triggers transitions over HTTP.
//
//	GET  /pm                  lists listeners and diagnostics
//	POST /pm/{mode}           runs prepare, enter and exit in order
//	POST /pm/{mode}/{phase}   sends a single prepare, enter or exit
//
// A vetoed transition answers 409 with the refusing listener.
func (p *PM) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathPrefix, p.list)
	mux.HandleFunc("POST "+PathPrefix+"/{mode}", p.transition)
	mux.HandleFunc("POST "+PathPrefix+"/{mode}/{phase}", p.step)
	return mux
}

func (p *PM) list(w http.ResponseWriter, _ *http.Request) {
	resp := listing{
		Listeners:   p.chain.Names(),
		Diagnostics: map[string]bool{},
	}
	for m := Mode(0); m < modeCount; m++ {
		resp.Diagnostics[m.String()] = p.diagnostics[m].Load()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *PM) transition(w http.ResponseWriter, req *http.Request) {
	mode, err := ParseMode(req.PathValue("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := p.Prepare(mode); err != nil {
		p.writeError(w, err)
		return
	}
	if err := p.Enter(mode); err != nil {
		p.writeError(w, err)
		return
	}
	if err := p.Exit(mode); err != nil {
		p.writeError(w, err)
		return
	}
	p.log.V(4).Info("transition completed", "mode", mode.String())

	w.WriteHeader(http.StatusNoContent)
}

func (p *PM) step(w http.ResponseWriter, req *http.Request) {
	mode, err := ParseMode(req.PathValue("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var send func(Mode) error
	switch strings.ToLower(req.PathValue("phase")) {
	case "prepare":
		send = p.Prepare
	case "enter":
		send = p.Enter
	case "exit":
		send = p.Exit
	default:
		http.Error(w, "unknown phase "+req.PathValue("phase"), http.StatusNotFound)
		return
	}

	if err := send(mode); err != nil {
		p.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (p *PM) writeError(w http.ResponseWriter, err error) {
	var notifyErr *NotifyError
	if !errors.As(err, &notifyErr) {
		p.log.Error(err, "unable to run transition")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusConflict, vetoResponse{
		Event:    notifyErr.Event.String(),
		Listener: notifyErr.Listener,
		Position: notifyErr.Position,
		Error:    notifyErr.Err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
