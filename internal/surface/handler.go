package surface

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/AMDEPYC/nexus-governor/internal/tunables"
)

const (
	PathPrefix   = "/tunables"
	maxValueSize = 4096
)

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathPrefix, r.listGroups)
	mux.HandleFunc("GET "+PathPrefix+"/{path...}", r.read)
	mux.HandleFunc("PUT "+PathPrefix+"/{path...}", r.write)
	mux.HandleFunc("POST "+PathPrefix+"/{path...}", r.write)
	return mux
}

func (r *Registry) listGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.Groups())
}

func (r *Registry) read(w http.ResponseWriter, req *http.Request) {
	path := strings.Trim(req.PathValue("path"), "/")

	if values, err := r.Snapshot(path); err == nil {
		writeJSON(w, values)
		return
	}

	group, key, ok := r.split(path)
	if !ok {
		http.Error(w, ErrGroupNotFound.Error(), http.StatusNotFound)
		return
	}
	attrs, err := r.Lookup(group)
	if err != nil {
		r.writeError(w, err)
		return
	}
	value, err := attrs.Get(key)
	if err != nil {
		r.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, value+"\n")
}

func (r *Registry) write(w http.ResponseWriter, req *http.Request) {
	group, key, ok := r.split(strings.Trim(req.PathValue("path"), "/"))
	if !ok {
		http.Error(w, ErrGroupNotFound.Error(), http.StatusNotFound)
		return
	}
	attrs, err := r.Lookup(group)
	if err != nil {
		r.writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxValueSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := attrs.Set(key, string(body)); err != nil {
		r.writeError(w, err)
		return
	}
	r.log.V(4).Info("attribute written", "group", group, "key", key, "value", strings.TrimSpace(string(body)))

	w.WriteHeader(http.StatusNoContent)
}

// split separates the trailing key from a group path.
func (r *Registry) split(path string) (string, string, bool) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}

func (r *Registry) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tunables.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tunables.ErrUnknownAttribute), errors.Is(err, ErrGroupNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		r.log.Error(err, "unable to serve attribute")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
