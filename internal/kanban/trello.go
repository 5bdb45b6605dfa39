// Package kanban projects job lifecycle onto an external Kanban board.
// The Trello adapter implements the board port; the projection engine
// subscribes to the domain bus and drives the port. Board trouble never
// fails a job.
package kanban

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/egv/autoclaude/internal/contracts"
	"github.com/egv/autoclaude/internal/ratelimit"
)

const (
	defaultTrelloBaseURL = "https://api.trello.com"
	defaultHTTPTimeout   = 10 * time.Second
)

// DefaultListNames maps a card status to the board list name it expects.
// Overridable per status via KANBAN_LIST_<STATUS>.
func DefaultListNames() map[contracts.CardStatus]string {
	return map[contracts.CardStatus]string{
		contracts.CardStatusBacklog:    "Backlog",
		contracts.CardStatusTodo:       "To Do",
		contracts.CardStatusInProgress: "In Progress",
		contracts.CardStatusReview:     "Review",
		contracts.CardStatusDone:       "Done",
		contracts.CardStatusBlocked:    "Blocked",
		contracts.CardStatusCancelled:  "Cancelled",
	}
}

type Trello struct {
	baseURL   string
	key       string
	token     string
	client    *http.Client
	limiter   *ratelimit.HostLimiter
	host      string
	logger    *slog.Logger
	listNames map[string]contracts.CardStatus
}

type TrelloOptions struct {
	// BaseURL defaults to the public Trello API; tests point it at httptest.
	BaseURL     string
	Key         string
	Token       string
	HTTPTimeout time.Duration
	Limiter     *ratelimit.HostLimiter
	// ListNames overrides DefaultListNames entries per status.
	ListNames map[contracts.CardStatus]string
	Logger    *slog.Logger
}

func NewTrello(options TrelloOptions) (*Trello, error) {
	if strings.TrimSpace(options.Key) == "" || strings.TrimSpace(options.Token) == "" {
		return nil, fmt.Errorf("trello port requires key and token")
	}
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = defaultTrelloBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse trello base url: %w", err)
	}
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	limiter := options.Limiter
	if limiter == nil {
		// Trello's documented budget is 100 requests per 10 seconds.
		limiter = ratelimit.NewHostLimiter(10, 10)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	names := DefaultListNames()
	for status, name := range options.ListNames {
		if strings.TrimSpace(name) != "" {
			names[status] = name
		}
	}
	byName := make(map[string]contracts.CardStatus, len(names))
	for status, name := range names {
		byName[strings.ToLower(strings.TrimSpace(name))] = status
	}

	return &Trello{
		baseURL:   strings.TrimRight(baseURL, "/"),
		key:       options.Key,
		token:     options.Token,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		host:      parsed.Host,
		logger:    logger.With("component", "kanban.trello"),
		listNames: byName,
	}, nil
}

func (t *Trello) CreateCard(ctx context.Context, listID, title, description string) (string, error) {
	values := url.Values{}
	values.Set("idList", listID)
	values.Set("name", title)
	values.Set("desc", description)
	var card struct {
		ID string `json:"id"`
	}
	if err := t.call(ctx, http.MethodPost, "/1/cards", values, &card); err != nil {
		return "", fmt.Errorf("create card: %w", err)
	}
	return card.ID, nil
}

func (t *Trello) AddComment(ctx context.Context, cardID, text string) error {
	values := url.Values{}
	values.Set("text", text)
	path := "/1/cards/" + url.PathEscape(cardID) + "/actions/comments"
	if err := t.call(ctx, http.MethodPost, path, values, nil); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (t *Trello) MoveCard(ctx context.Context, cardID, listID string) error {
	values := url.Values{}
	values.Set("idList", listID)
	path := "/1/cards/" + url.PathEscape(cardID)
	if err := t.call(ctx, http.MethodPut, path, values, nil); err != nil {
		return fmt.Errorf("move card: %w", err)
	}
	return nil
}

func (t *Trello) ListLists(ctx context.Context, boardID string) ([]contracts.KanbanList, error) {
	path := "/1/boards/" + url.PathEscape(boardID) + "/lists"
	var lists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := t.call(ctx, http.MethodGet, path, nil, &lists); err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	out := make([]contracts.KanbanList, 0, len(lists))
	for _, l := range lists {
		out = append(out, contracts.KanbanList{ID: l.ID, Name: l.Name})
	}
	return out, nil
}

// MapListToStatus resolves a board list name to a card status. Names outside
// the configured map return CardStatusUnknown; there is no fallback.
func (t *Trello) MapListToStatus(name string) contracts.CardStatus {
	if status, ok := t.listNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return status
	}
	return contracts.CardStatusUnknown
}

func (t *Trello) call(ctx context.Context, method, path string, values url.Values, out any) error {
	if err := t.limiter.Wait(ctx, t.host); err != nil {
		return err
	}
	if values == nil {
		values = url.Values{}
	}
	values.Set("key", t.key)
	values.Set("token", t.token)

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ contracts.KanbanPort = (*Trello)(nil)
