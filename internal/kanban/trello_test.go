package kanban

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/egv/autoclaude/internal/contracts"
)

func newTestTrello(t *testing.T, handler http.HandlerFunc) *Trello {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	port, err := NewTrello(TrelloOptions{
		BaseURL: server.URL,
		Key:     "test-key",
		Token:   "test-token",
	})
	if err != nil {
		t.Fatalf("new trello: %v", err)
	}
	return port
}

func TestTrelloCreateCard(t *testing.T) {
	port := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/1/cards" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("key") != "test-key" || query.Get("token") != "test-token" {
			t.Error("missing auth parameters")
		}
		if query.Get("idList") != "list-todo" {
			t.Errorf("unexpected idList %q", query.Get("idList"))
		}
		if query.Get("name") != "Fix crash" {
			t.Errorf("unexpected name %q", query.Get("name"))
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "card-1"})
	})

	cardID, err := port.CreateCard(context.Background(), "list-todo", "Fix crash", "details")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if cardID != "card-1" {
		t.Fatalf("expected card-1, got %q", cardID)
	}
}

func TestTrelloAddCommentAndMoveCard(t *testing.T) {
	var gotPaths []string
	port := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut && r.URL.Query().Get("idList") != "list-done" {
			t.Errorf("move missing idList, got %q", r.URL.Query().Get("idList"))
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := port.AddComment(context.Background(), "card-1", "Phase: run_agent"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if err := port.MoveCard(context.Background(), "card-1", "list-done"); err != nil {
		t.Fatalf("move card: %v", err)
	}

	want := []string{"POST /1/cards/card-1/actions/comments", "PUT /1/cards/card-1"}
	if len(gotPaths) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), gotPaths)
	}
	for i := range want {
		if gotPaths[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], gotPaths[i])
		}
	}
}

func TestTrelloListLists(t *testing.T) {
	port := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/boards/board-1/lists" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "l1", "name": "To Do"},
			{"id": "l2", "name": "In Progress"},
		})
	})

	lists, err := port.ListLists(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("list lists: %v", err)
	}
	if len(lists) != 2 || lists[0].ID != "l1" || lists[1].Name != "In Progress" {
		t.Fatalf("unexpected lists %+v", lists)
	}
}

func TestTrelloSurfacesAPIErrors(t *testing.T) {
	port := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid id", http.StatusBadRequest)
	})
	if _, err := port.CreateCard(context.Background(), "bogus", "t", "d"); err == nil {
		t.Fatal("expected error from 400 response")
	}
}

func TestMapListToStatus(t *testing.T) {
	port, err := NewTrello(TrelloOptions{
		Key:   "k",
		Token: "t",
		ListNames: map[contracts.CardStatus]string{
			contracts.CardStatusTodo: "Inbox",
		},
	})
	if err != nil {
		t.Fatalf("new trello: %v", err)
	}

	tests := []struct {
		name string
		want contracts.CardStatus
	}{
		{"Inbox", contracts.CardStatusTodo},
		{"inbox", contracts.CardStatusTodo},
		{"  In Progress ", contracts.CardStatusInProgress},
		{"Done", contracts.CardStatusDone},
		{"Someday/Maybe", contracts.CardStatusUnknown},
		{"", contracts.CardStatusUnknown},
	}
	for _, tc := range tests {
		if got := port.MapListToStatus(tc.name); got != tc.want {
			t.Fatalf("MapListToStatus(%q) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestNewTrelloRequiresCredentials(t *testing.T) {
	if _, err := NewTrello(TrelloOptions{Key: "k"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewTrello(TrelloOptions{Token: "t"}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
