package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/publisher"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testRootAddress = "0xroot"

type staticNicknames map[string]string

func (n staticNicknames) Apply(_ context.Context, users []feed.User) ([]feed.User, error) {
	decorated := make([]feed.User, len(users))
	for i, user := range users {
		user.Nick = n[user.Address]
		decorated[i] = user
	}
	return decorated, nil
}

type testServer struct {
	handler    http.Handler
	backend    *testutil.ScriptedBackend
	indexer    *indexer.Service
	dispatcher *RealtimeDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := testutil.NewScriptedBackend()
	dispatcher := NewRealtimeDispatcher()
	service, err := indexer.NewService(indexer.ServiceConfig{
		Backend:     backend,
		RootAddress: testRootAddress,
		Sync:        snapshot.Options{FetchBatchSize: 2, Concurrency: 2},
		OnRound:     AnnounceRound(dispatcher, nil),
		IDProvider:  indexer.NewUUIDProvider(),
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct indexer: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Snapshots:  service,
		Publisher:  publisher.New(backend, publisher.Config{FetchBatchSize: 2}),
		Logs:       backend,
		Nicknames:  staticNicknames{testRootAddress: "root"},
		Dispatcher: dispatcher,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &testServer{handler: handler, backend: backend, indexer: service, dispatcher: dispatcher}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func TestPublishSyncAndReadFrontPage(t *testing.T) {
	server := newTestServer(t)

	published := server.do(t, http.MethodPost, "/api/users/0xROOT/updates", `{"type":"post","title":"Hello","link":"https://example.com"}`)
	if published.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", published.Code, published.Body.String())
	}
	publishBody := decodeBody[publishResponse](t, published)
	if publishBody.Address != testRootAddress || publishBody.Index != 0 || publishBody.Kind != "post" || publishBody.PostID == "" {
		t.Fatalf("unexpected publish response %#v", publishBody)
	}

	comment := `{"type":"post","text":"first!","parent":"` + publishBody.PostID + `"}`
	if recorder := server.do(t, http.MethodPost, "/api/users/0xroot/updates", comment); recorder.Code != http.StatusCreated {
		t.Fatalf("comment publish failed: %d %s", recorder.Code, recorder.Body.String())
	}

	synced := server.do(t, http.MethodPost, "/api/sync", "")
	if synced.Code != http.StatusOK {
		t.Fatalf("expected sync to succeed, got %d: %s", synced.Code, synced.Body.String())
	}
	if result := decodeBody[indexer.RoundResult](t, synced); result.NewPosts != 2 {
		t.Fatalf("unexpected round result %#v", result)
	}

	front := server.do(t, http.MethodGet, "/api/front", "")
	if front.Code != http.StatusOK {
		t.Fatalf("expected front page, got %d", front.Code)
	}
	page := decodeBody[frontPageResponse](t, front)
	if len(page.Posts) != 1 || page.Posts[0].ID != publishBody.PostID || len(page.Posts[0].Comments) != 1 {
		t.Fatalf("unexpected front page %#v", page)
	}
	if page.Nicks[testRootAddress] != "root" {
		t.Fatalf("expected author nickname, got %v", page.Nicks)
	}

	post := server.do(t, http.MethodGet, "/api/posts/"+publishBody.PostID, "")
	if post.Code != http.StatusOK {
		t.Fatalf("expected post lookup to succeed, got %d", post.Code)
	}
	if body := decodeBody[postResponse](t, post); body.Post.Title != "Hello" || body.Post.Comments[0].Text != "first!" {
		t.Fatalf("unexpected post response %#v", body)
	}

	next := server.do(t, http.MethodGet, "/api/users/0xRoot/next-index", "")
	if body := decodeBody[nextIndexResponse](t, next); body.NextIndex != 2 || body.Address != testRootAddress {
		t.Fatalf("unexpected next index %#v", body)
	}
}

func TestReadEndpointsRejectBadInput(t *testing.T) {
	server := newTestServer(t)
	testCases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "unknown post", method: http.MethodGet, path: "/api/posts/0xmissing", status: http.StatusNotFound},
		{name: "page size too large", method: http.MethodGet, path: "/api/front?n=501", status: http.StatusBadRequest},
		{name: "page size not a number", method: http.MethodGet, path: "/api/front?n=ten", status: http.StatusBadRequest},
		{name: "unrecognized update", method: http.MethodPost, path: "/api/users/0xroot/updates", body: `{"type":"edit"}`, status: http.StatusBadRequest},
		{name: "empty post", method: http.MethodPost, path: "/api/users/0xroot/updates", body: `{"type":"post"}`, status: http.StatusBadRequest},
		{name: "blank address", method: http.MethodPost, path: "/api/users/%20/updates", body: `{"type":"vote","post":"0x1"}`, status: http.StatusBadRequest},
		{name: "negative log index", method: http.MethodGet, path: "/logs/0xroot/-1", status: http.StatusBadRequest},
		{name: "missing log entry", method: http.MethodGet, path: "/logs/0xroot/0", status: http.StatusNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.do(t, testCase.method, testCase.path, testCase.body)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestLogEndpointsRoundTripEntries(t *testing.T) {
	server := newTestServer(t)

	invite := `{"type":"invite","user":"0xalice"}`
	if recorder := server.do(t, http.MethodPut, "/logs/0xroot/0", invite); recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder := server.do(t, http.MethodPut, "/logs/0xroot/0", `{"type":"vote","post":"0x1"}`); recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a taken index, got %d", recorder.Code)
	}

	fetched := server.do(t, http.MethodGet, "/logs/0xroot/0", "")
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", fetched.Code)
	}
	if update := feed.DecodeUpdate(fetched.Body.Bytes()); update != (feed.Invite{Address: "0xalice"}) {
		t.Fatalf("unexpected stored entry %#v", update)
	}
}

func TestSyncFailureReportsFailingEntry(t *testing.T) {
	server := newTestServer(t)
	server.backend.FailAt(testRootAddress, 0, errors.New("storage offline"))

	recorder := server.do(t, http.MethodPost, "/api/sync", "")
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
	body := decodeBody[map[string]any](t, recorder)
	if body["code"] != "indexer.sync_round.sync_failed" || body["address"] != testRootAddress || body["index"] != float64(0) {
		t.Fatalf("unexpected failure body %v", body)
	}
}

func TestSnapshotEndpointDecoratesUsers(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodGet, "/api/snapshot", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody[snapshot.IndexedSnapshot](t, recorder)
	if len(body.Users) != 1 || body.Users[0].Nick != "root" || body.UserIndex[testRootAddress] != 0 {
		t.Fatalf("unexpected snapshot body %#v", body)
	}
	if health := server.do(t, http.MethodGet, "/healthz", ""); health.Code != http.StatusOK {
		t.Fatalf("expected healthz to succeed")
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSnapshotSource) {
		t.Fatalf("expected missing snapshot source, got %v", err)
	}
}
