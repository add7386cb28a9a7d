package elasticsearch_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type fakeDoc struct {
	source map[string]any
	seqNo  int
}

// fakeES implements the handful of Elasticsearch endpoints the store uses.
// Searches are answered by the search hook.
type fakeES struct {
	mu        sync.Mutex
	indices   map[string]bool
	docs      map[string]map[string]*fakeDoc
	seq       int
	searches  []map[string]any
	search    func(index string, body map[string]any) []map[string]any
	afterGet  func(index, id string)
	created   []string
	deletions []map[string]any
}

func newFakeES(t *testing.T) (*fakeES, *httptest.Server) {
	t.Helper()
	f := &fakeES{indices: map[string]bool{}, docs: map[string]map[string]*fakeDoc{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeES) onGet(fn func(index, id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterGet = fn
}

func (f *fakeES) onSearch(fn func(index string, body map[string]any) []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.search = fn
}

func (f *fakeES) createdIndices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *fakeES) deleteBodies() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.deletions...)
}

func (f *fakeES) lastSearch() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.searches) == 0 {
		return nil
	}
	return f.searches[len(f.searches)-1]
}

func (f *fakeES) bump(index, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[index][id]; ok {
		f.seq++
		d.seqNo = f.seq
	}
}

func (f *fakeES) source(index, id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[index][id]; ok {
		return d.source
	}
	return nil
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	switch {
	case r.URL.Path == "/" || parts[0] == "_cluster":
		writeJSON(w, http.StatusOK, map[string]any{"status": "green", "version": map[string]any{"number": "8.19.0"}})
	case len(parts) == 1 && r.Method == http.MethodHead:
		f.mu.Lock()
		exists := f.indices[parts[0]]
		f.mu.Unlock()
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		f.mu.Lock()
		f.indices[parts[0]] = true
		f.created = append(f.created, parts[0])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case len(parts) == 3 && parts[1] == "_create":
		f.create(w, parts[0], parts[2], body)
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodGet:
		f.get(w, parts[0], parts[2])
	case len(parts) == 3 && parts[1] == "_doc":
		f.index(w, r, parts[0], parts[2], body)
	case len(parts) == 3 && parts[1] == "_update":
		f.update(w, parts[0], parts[2], body)
	case len(parts) == 2 && parts[1] == "_search":
		f.mu.Lock()
		f.searches = append(f.searches, body)
		hook := f.search
		f.mu.Unlock()
		var hits []map[string]any
		if hook != nil {
			hits = hook(parts[0], body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"hits": map[string]any{"total": map[string]any{"value": len(hits)}, "hits": hits}})
	case len(parts) == 2 && parts[1] == "_delete_by_query":
		f.mu.Lock()
		f.deletions = append(f.deletions, body)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"deleted": 3})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported " + r.Method + " " + r.URL.Path})
	}
}

func (f *fakeES) create(w http.ResponseWriter, index, id string, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[index] == nil {
		f.docs[index] = map[string]*fakeDoc{}
	}
	if _, ok := f.docs[index][id]; ok {
		writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{"type": "version_conflict_engine_exception"}})
		return
	}
	f.seq++
	f.docs[index][id] = &fakeDoc{source: body, seqNo: f.seq}
	writeJSON(w, http.StatusCreated, map[string]any{"_id": id, "result": "created"})
}

func (f *fakeES) get(w http.ResponseWriter, index, id string) {
	f.mu.Lock()
	d, ok := f.docs[index][id]
	var resp map[string]any
	if ok {
		resp = map[string]any{"_id": id, "found": true, "_seq_no": d.seqNo, "_primary_term": 1, "_source": d.source}
	}
	hook := f.afterGet
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"_id": id, "found": false})
		return
	}
	writeJSON(w, http.StatusOK, resp)
	if hook != nil {
		hook(index, id)
	}
}

func (f *fakeES) index(w http.ResponseWriter, r *http.Request, index, id string, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[index] == nil {
		f.docs[index] = map[string]*fakeDoc{}
	}
	d, ok := f.docs[index][id]
	if raw := r.URL.Query().Get("if_seq_no"); raw != "" {
		want, _ := strconv.Atoi(raw)
		if !ok || d.seqNo != want {
			writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{"type": "version_conflict_engine_exception"}})
			return
		}
	}
	f.seq++
	f.docs[index][id] = &fakeDoc{source: body, seqNo: f.seq}
	writeJSON(w, http.StatusOK, map[string]any{"_id": id, "result": "updated"})
}

func (f *fakeES) update(w http.ResponseWriter, index, id string, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[index][id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "document_missing_exception"}})
		return
	}
	partial, _ := body["doc"].(map[string]any)
	merged := map[string]any{}
	for k, v := range d.source {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	f.seq++
	f.docs[index][id] = &fakeDoc{source: merged, seqNo: f.seq}
	writeJSON(w, http.StatusOK, map[string]any{"_id": id, "result": "updated"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
