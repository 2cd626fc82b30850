package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/oracle"
	"github.com/ggoodman/twentyq/sessions/memory"
)

type numbered struct{ calls atomic.Int32 }

func (n *numbered) NextStep(ctx context.Context, req oracle.Request) (game.Step, error) {
	n.calls.Add(1)
	return game.Question{Text: fmt.Sprintf("Q%d", len(req.History)+1)}, nil
}

func newServer(t *testing.T, port oracle.Port) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gateway.New(memory.New(), port, gateway.WithLogger(log))
	srv := httptest.NewServer(New(gw, WithLogger(log)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(res.Body)
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return res, out
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	s, _ := e["code"].(string)
	return s
}

func TestGameFlow(t *testing.T) {
	srv := newServer(t, &numbered{})

	res, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, body %v", res.StatusCode, body)
	}
	if body["kind"] != "question" || body["question"] != "Q1" || body["done"] != false {
		t.Fatalf("start body = %v", body)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("start returned no session id")
	}

	res, body = do(t, http.MethodPost, srv.URL+"/api/games/"+id+"/answers", `{"answer":"yes"}`)
	if res.StatusCode != http.StatusOK || body["question"] != "Q2" || body["question_number"] != float64(2) {
		t.Fatalf("answer = %d %v", res.StatusCode, body)
	}

	res, body = do(t, http.MethodGet, srv.URL+"/api/games/"+id+"/guess", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("guess status = %d", res.StatusCode)
	}
	if g, present := body["guess"]; !present || g != nil {
		t.Fatalf("guess = %v, want explicit null", body)
	}

	res, body = do(t, http.MethodGet, srv.URL+"/api/games/"+id, "")
	if res.StatusCode != http.StatusOK || body["state"] != string(game.StateTurnPending) {
		t.Fatalf("get = %d %v", res.StatusCode, body)
	}
	hist, _ := body["history"].([]any)
	if len(hist) != 1 {
		t.Fatalf("history = %v", body["history"])
	}

	res, body = do(t, http.MethodPost, srv.URL+"/api/games/"+id+"/end", `{"outcome":"incorrect","answer":"a kazoo"}`)
	if res.StatusCode != http.StatusOK || body["done"] != true || body["outcome"] != "incorrect" {
		t.Fatalf("end = %d %v", res.StatusCode, body)
	}

	res, body = do(t, http.MethodPost, srv.URL+"/api/games/"+id+"/answers", `{"answer":"no"}`)
	if res.StatusCode != http.StatusOK || body["kind"] != "done" || body["done"] != true {
		t.Fatalf("answer after end = %d %v", res.StatusCode, body)
	}
}

func TestEndWithoutBody(t *testing.T) {
	srv := newServer(t, &numbered{})
	_, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	id := body["session_id"].(string)

	res, body := do(t, http.MethodPost, srv.URL+"/api/games/"+id+"/end", "")
	if res.StatusCode != http.StatusOK || body["done"] != true {
		t.Fatalf("end = %d %v", res.StatusCode, body)
	}
	if _, ok := body["outcome"]; ok {
		t.Fatalf("outcome should be omitted: %v", body)
	}
}

func TestErrors(t *testing.T) {
	srv := newServer(t, oracle.NewScripted(game.Guess{Text: "a cat"}))
	_, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	guessed := body["session_id"].(string)

	cases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown answer", http.MethodPost, "/api/games/nope/answers", `{"answer":"yes"}`, http.StatusNotFound, CodeNotFound},
		{"unknown guess", http.MethodGet, "/api/games/nope/guess", "", http.StatusNotFound, CodeNotFound},
		{"unknown end", http.MethodPost, "/api/games/nope/end", "", http.StatusNotFound, CodeNotFound},
		{"no pending question", http.MethodPost, "/api/games/" + guessed + "/answers", `{"answer":"yes"}`, http.StatusBadRequest, CodeNoPendingQuestion},
		{"bad answer", http.MethodPost, "/api/games/" + guessed + "/answers", `{"answer":"probably"}`, http.StatusBadRequest, CodeInvalidArgument},
		{"bad outcome", http.MethodPost, "/api/games/" + guessed + "/end", `{"outcome":"meh"}`, http.StatusBadRequest, CodeInvalidArgument},
		{"malformed", http.MethodPost, "/api/games/" + guessed + "/answers", `{"answer":`, http.StatusBadRequest, CodeInvalidJSON},
		{"unknown field", http.MethodPost, "/api/games/" + guessed + "/answers", `{"answer":"yes","extra":1}`, http.StatusBadRequest, CodeInvalidJSON},
		{"mistyped field", http.MethodPost, "/api/games/" + guessed + "/answers", `{"answer":1}`, http.StatusBadRequest, CodeInvalidArgument},
		{"missing body", http.MethodPost, "/api/games/" + guessed + "/answers", "", http.StatusUnsupportedMediaType, CodeUnsupportedMedia},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := do(t, tc.method, srv.URL+tc.path, tc.body)
			if res.StatusCode != tc.wantStatus || errCode(body) != tc.wantCode {
				t.Fatalf("got %d %v, want %d %s", res.StatusCode, body, tc.wantStatus, tc.wantCode)
			}
		})
	}
}

func TestValidationEnumeratesFields(t *testing.T) {
	srv := newServer(t, &numbered{})
	_, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	id := body["session_id"].(string)

	_, body = do(t, http.MethodPost, srv.URL+"/api/games/"+id+"/answers", `{"answer":""}`)
	e := body["error"].(map[string]any)
	fields, _ := e["fields"].([]any)
	if len(fields) != 1 || fields[0].(map[string]any)["field"] != "answer" {
		t.Fatalf("fields = %v", e)
	}
}

func TestMistypedFieldIsNamed(t *testing.T) {
	srv := newServer(t, &numbered{})
	_, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	id := body["session_id"].(string)

	res, body := do(t, http.MethodPost, srv.URL+"/api/games/"+id+"/end", `{"outcome":"incorrect","answer":["cat"]}`)
	if res.StatusCode != http.StatusBadRequest || errCode(body) != CodeInvalidArgument {
		t.Fatalf("got %d %v", res.StatusCode, body)
	}
	fields, _ := body["error"].(map[string]any)["fields"].([]any)
	if len(fields) != 1 || fields[0].(map[string]any)["field"] != "answer" {
		t.Fatalf("fields = %v", body)
	}

	// The game was not touched.
	_, body = do(t, http.MethodGet, srv.URL+"/api/games/"+id, "")
	if body["done"] == true {
		t.Fatalf("game ended despite rejected body: %v", body)
	}
}

func TestContentNegotiation(t *testing.T) {
	srv := newServer(t, &numbered{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/games", nil)
	req.Header.Set("Accept", "text/html")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", res.StatusCode)
	}

	_, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	id := body["session_id"].(string)

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/games/"+id+"/answers", strings.NewReader(`{"answer":"yes"}`))
	req.Header.Set("Content-Type", "text/plain")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", res.StatusCode)
	}
}

func TestRoutingErrorsUseEnvelope(t *testing.T) {
	srv := newServer(t, &numbered{})

	cases := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantCode   string
		wantAllow  string
	}{
		{"wrong method", http.MethodDelete, "/api/games", http.StatusMethodNotAllowed, CodeMethodNotAllowed, "POST"},
		{"get on answers", http.MethodGet, "/api/games/x/answers", http.StatusMethodNotAllowed, CodeMethodNotAllowed, "POST"},
		{"unknown route", http.MethodGet, "/api/players", http.StatusNotFound, CodeUnknownRoute, ""},
		{"too deep", http.MethodPost, "/api/games/x/answers/1", http.StatusNotFound, CodeUnknownRoute, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := do(t, tc.method, srv.URL+tc.path, "")
			if res.StatusCode != tc.wantStatus || errCode(body) != tc.wantCode {
				t.Fatalf("got %d %v, want %d %s", res.StatusCode, body, tc.wantStatus, tc.wantCode)
			}
			if got := res.Header.Get("Allow"); got != tc.wantAllow {
				t.Fatalf("Allow = %q, want %q", got, tc.wantAllow)
			}
		})
	}
}

func TestOracleOutageStillAsks(t *testing.T) {
	port := oracle.PortFunc(func(ctx context.Context, req oracle.Request) (game.Step, error) {
		return nil, oracle.ErrUnavailable
	})
	srv := newServer(t, port)

	res, body := do(t, http.MethodPost, srv.URL+"/api/games", "")
	if res.StatusCode != http.StatusCreated || body["kind"] != "question" || body["question"] == "" {
		t.Fatalf("start = %d %v", res.StatusCode, body)
	}
}
