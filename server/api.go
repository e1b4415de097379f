package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/backend"
	"github.com/wolfeidau/mediadb/query"
	"github.com/wolfeidau/mediadb/store/tree"
	"github.com/wolfeidau/mediadb/telemetry"
)

type fileStats struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type statsResponse struct {
	tree.Stats
	File *fileStats `json:"file,omitempty"`
}

// handleStats reports entry counts and the state of the library file.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stats")

	resp := statsResponse{Stats: s.db.Stats()}
	info, err := s.file.Stat(r.Context())
	switch {
	case err == nil:
		resp.File = &fileStats{Key: s.file.Key(), Size: info.Size, ModTime: info.ModTime}
	case !errors.Is(err, backend.ErrNotFound):
		s.logger.Warn("stat library file failed", "key", s.file.Key(), "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQuery streams the entries matching the request's filters. Each
// batch produced by the store is flushed to the client as it arrives.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "entries")

	p, limit, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st := &entryStream{w: w, r: r, db: s.db, limit: limit, cancel: cancel}
	err = s.db.Run(ctx, p, st)
	switch {
	case err == nil, st.truncated && errors.Is(err, mediadb.ErrCancelled):
		st.finish("")
	case !st.started && errors.Is(err, mediadb.ErrTypeMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case r.Context().Err() != nil:
		s.logger.Debug("client went away during query", "error", err)
	case !st.started:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("query failed mid-stream", "error", err)
		st.finish(err.Error())
	}
}

// parseQuery builds a program from the request's filter parameters, along
// with the result limit.
func (s *Server) parseQuery(r *http.Request) (query.Program, int, error) {
	params := r.URL.Query()
	f := tree.Filter{
		Type:   params.Get("type"),
		Genre:  params.Get("genre"),
		Artist: params.Get("artist"),
		Album:  params.Get("album"),
		Search: params.Get("q"),
	}
	if v := params.Get("min-rating"); v != "" {
		rating, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid min-rating %q", v)
		}
		f.MinRating = &rating
	}
	p, err := f.Program(s.db)
	if err != nil {
		return nil, 0, err
	}
	if f.Type != "" {
		telemetry.SetEntryType(r, f.Type)
	}

	limit := s.config.MaxResults
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, 0, fmt.Errorf("invalid limit %q", v)
		}
		if limit == 0 || n < limit {
			limit = n
		}
	}
	return p, limit, nil
}

// entryStream writes query batches as a single JSON document:
// {"entries":[...],"count":N,"truncated":false}.
type entryStream struct {
	w      http.ResponseWriter
	r      *http.Request
	db     *tree.DB
	limit  int
	cancel context.CancelFunc

	started   bool
	count     int
	truncated bool
	err       error
}

func (st *entryStream) begin() {
	if st.started {
		return
	}
	st.started = true
	st.w.Header().Set("Content-Type", "application/json")
	st.w.WriteHeader(http.StatusOK)
	st.write([]byte(`{"entries":[`))
}

func (st *entryStream) write(b []byte) {
	if st.err != nil {
		return
	}
	if _, err := st.w.Write(b); err != nil {
		st.err = err
		st.cancel()
	}
}

func (st *entryStream) Add(entries []*tree.Entry) {
	st.begin()
	added := 0
	for _, e := range entries {
		if st.limit > 0 && st.count >= st.limit {
			st.truncated = true
			st.cancel()
			break
		}
		b, err := json.Marshal(entryJSON(st.db, e))
		if err != nil {
			st.err = err
			st.cancel()
			return
		}
		if st.count > 0 {
			st.write([]byte{','})
		}
		st.write(b)
		st.count++
		added++
	}
	telemetry.AddResults(st.r, added)
	if f, ok := st.w.(http.Flusher); ok && st.err == nil {
		f.Flush()
	}
}

func (st *entryStream) Complete() {}

func (st *entryStream) finish(errMsg string) {
	st.begin()
	tail := struct {
		Count     int    `json:"count"`
		Truncated bool   `json:"truncated"`
		Error     string `json:"error,omitempty"`
	}{st.count, st.truncated, errMsg}
	b, _ := json.Marshal(tail)
	// Splice the trailer object's fields after the entries array.
	st.write([]byte("],"))
	st.write(b[1:])
}

// entryJSON flattens an entry's persisted properties into a JSON object.
func entryJSON(db *tree.DB, e *tree.Entry) map[string]any {
	snap := db.Snapshot(e)
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		out[k] = v.Any()
	}
	return out
}

func (s *Server) lookupEntry(w http.ResponseWriter, r *http.Request) *tree.Entry {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entry id %q", r.PathValue("id")))
		return nil
	}
	e := s.db.LookupByID(uint32(id))
	if e == nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return nil
	}
	telemetry.SetEntryType(r, e.Type().Name)
	return e
}

// handleGetEntry returns one entry by id.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "entry")
	e := s.lookupEntry(w, r)
	if e == nil {
		return
	}
	telemetry.AddResults(r, 1)
	writeJSON(w, http.StatusOK, entryJSON(s.db, e))
}

// handleDeleteEntry removes one entry by id.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "entry")
	e := s.lookupEntry(w, r)
	if e == nil {
		return
	}
	if err := s.db.Delete(e); err != nil {
		if errors.Is(err, mediadb.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBrowse lists the genres of an entry type, the artists of a genre
// or the albums of an artist.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "browse")

	t, ok := s.db.EntryType(r.PathValue("type"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown entry type %q", r.PathValue("type")))
		return
	}
	telemetry.SetEntryType(r, t.Name)

	genre, artist := r.URL.Query().Get("genre"), r.URL.Query().Get("artist")
	resp := map[string]any{"type": t.Name}
	var names []string
	switch {
	case genre == "" && artist != "":
		writeError(w, http.StatusBadRequest, "artist requires genre")
		return
	case genre == "":
		names = s.db.Genres(t)
		resp["genres"] = nonNil(names)
	case artist == "":
		names = s.db.Artists(t, genre)
		resp["genre"] = genre
		resp["artists"] = nonNil(names)
	default:
		names = s.db.Albums(t, genre, artist)
		resp["genre"] = genre
		resp["artist"] = artist
		resp["albums"] = nonNil(names)
	}
	telemetry.AddResults(r, len(names))
	writeJSON(w, http.StatusOK, resp)
}

type saveResponse struct {
	Key        string         `json:"key"`
	Entries    int            `json:"entries"`
	Bytes      int64          `json:"bytes"`
	Digest     mediadb.Digest `json:"digest"`
	Compressed bool           `json:"compressed"`
	DurationMS int64          `json:"duration_ms"`
}

// handleSave writes the library to its file.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "save")

	res, err := s.db.Save(r.Context(), s.file)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mediadb.ErrCancelled) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{
		Key:        s.file.Key(),
		Entries:    res.Entries,
		Bytes:      res.Bytes,
		Digest:     res.Digest,
		Compressed: res.Compressed,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
