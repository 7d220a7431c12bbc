package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docchat/internal/session"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return New(srv.URL, 5*time.Second), srv
}

func TestQuery_RequestAndResponse(t *testing.T) {
	var gotBody map[string]any
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/query" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"answer":"30 days.","sources":[{"source":"policy.pdf","chunk_id":2,"text":"Refunds within 30 days..."}]}`))
	}))
	defer srv.Close()

	history := []session.Turn{
		{Role: "user", Content: "hi"},
		{Role: "model", Content: "hello"},
	}
	answer, err := client.Query(context.Background(), "What is the refund policy?", history)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.Text != "30 days." {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
	if len(answer.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(answer.Sources))
	}
	src := answer.Sources[0]
	if src.Document != "policy.pdf" || src.ChunkID == nil || *src.ChunkID != 2 {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.Excerpt != "Refunds within 30 days..." {
		t.Fatalf("unexpected excerpt: %q", src.Excerpt)
	}

	if gotBody["query"] != "What is the refund policy?" {
		t.Fatalf("unexpected query field: %v", gotBody["query"])
	}
	sent, ok := gotBody["history"].([]any)
	if !ok || len(sent) != 2 {
		t.Fatalf("unexpected history payload: %v", gotBody["history"])
	}
	first := sent[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "hi" {
		t.Fatalf("unexpected history entry: %v", first)
	}
}

func TestQuery_NilHistorySentAsEmptyArray(t *testing.T) {
	var raw []byte
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"answer":"ok","sources":[]}`))
	}))
	defer srv.Close()

	if _, err := client.Query(context.Background(), "q", nil); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !strings.Contains(string(raw), `"history":[]`) {
		t.Fatalf("nil history must serialize as an empty array, got %s", raw)
	}
}

func TestQuery_ServerErrorSurfacesMessage(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"model unavailable"}`))
	}))
	defer srv.Close()

	_, err := client.Query(context.Background(), "q", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("server message not surfaced: %v", err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	chunk := 2
	stored := session.Session{
		ID:    "1700000000000",
		Title: "refunds",
		Messages: []session.Message{
			{Text: "What is the refund policy?", Role: session.RoleUser, Sources: []session.Source{}, Timestamp: 1700000000001},
			{Text: "30 days.", Role: session.RoleBot, Sources: []session.Source{{Document: "policy.pdf", ChunkID: &chunk, Excerpt: "..."}}, Timestamp: 1700000000002},
		},
	}

	var savedBody session.Session
	mux := http.NewServeMux()
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]session.Summary{{ID: stored.ID, Title: stored.Title, Timestamp: 1700000000002}})
		case http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&savedBody)
		}
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/history/")
		switch r.Method {
		case http.MethodGet:
			if id != stored.ID {
				_, _ = w.Write([]byte("null"))
				return
			}
			_ = json.NewEncoder(w).Encode(stored)
		case http.MethodDelete:
			if id != stored.ID {
				w.WriteHeader(http.StatusNotFound)
			}
		}
	})

	client, srv := newTestClient(mux)
	defer srv.Close()
	ctx := context.Background()

	summaries, err := client.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != stored.ID {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	got, err := client.GetSession(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || len(got.Messages) != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Messages[1].Sources[0].ChunkID == nil || *got.Messages[1].Sources[0].ChunkID != 2 {
		t.Fatalf("chunk id lost in transit: %+v", got.Messages[1].Sources)
	}

	missing, err := client.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("null session must yield (nil, nil), got %+v, %v", missing, err)
	}

	if err := client.SaveSession(ctx, &stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if savedBody.ID != stored.ID || len(savedBody.Messages) != 2 {
		t.Fatalf("unexpected save body: %+v", savedBody)
	}
	if savedBody.Messages[0].Role != "user" || savedBody.Messages[1].Role != "bot" {
		t.Fatalf("roles must persist as user/bot on the wire: %+v", savedBody.Messages)
	}

	if err := client.DeleteSession(ctx, stored.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := client.DeleteSession(ctx, "nope"); err == nil {
		t.Fatal("expected delete failure for unknown id")
	}
}

func TestUploadFile_MultipartForm(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = f.Close() }()
		if header.Filename != "report.pdf" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "%PDF-1.4" {
			t.Errorf("unexpected contents %q", data)
		}
		_, _ = w.Write([]byte(`{"message":"Successfully processed report.pdf"}`))
	}))
	defer srv.Close()

	msg, err := client.UploadFile(context.Background(), "report.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if msg != "Successfully processed report.pdf" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestUploadFile_ErrorBody(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Failed to extract text from file."}`))
	}))
	defer srv.Close()

	_, err := client.UploadFile(context.Background(), "broken.bin", strings.NewReader("junk"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Failed to extract text from file.") {
		t.Fatalf("server message not surfaced: %v", err)
	}
}

func TestFilesEndpoints(t *testing.T) {
	var deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"a.pdf", "b report.pdf"})
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = strings.TrimPrefix(r.URL.Path, "/files/")
		}
	})
	client, srv := newTestClient(mux)
	defer srv.Close()

	names, err := client.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a.pdf" {
		t.Fatalf("unexpected names: %v", names)
	}

	if err := client.DeleteFile(context.Background(), "b report.pdf"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != "b report.pdf" {
		t.Fatalf("path escaping broke the name: %q", deleted)
	}
}

func TestStatus(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"stopped","chunk_count":0}`))
	}))
	defer srv.Close()

	st, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st.Running() {
		t.Fatal("stopped backend reported as running")
	}
	if st.ChunkCount != 0 {
		t.Fatalf("unexpected chunk count %d", st.ChunkCount)
	}
}

func TestTransportErrorWrapped(t *testing.T) {
	client := New("http://127.0.0.1:0", time.Second)
	if _, err := client.Status(context.Background()); err == nil {
		t.Fatal("expected transport error")
	}
}
