package thenvoi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// Peer is an agent or user discoverable on the platform.
type Peer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PeerPage is one page of peer lookup results.
type PeerPage struct {
	Peers      []Peer
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// RestAPI is the platform's REST surface consumed by the SDK. The
// concrete RestClient implements it; tests substitute fakes.
type RestAPI interface {
	Me(ctx context.Context) (*AgentProfile, error)
	ListChats(ctx context.Context) ([]RoomPayload, error)
	CreateChat(ctx context.Context, name, taskID string) (*RoomPayload, error)
	ChatContext(ctx context.Context, roomID string) ([]ContextMessage, error)
	ListChatParticipants(ctx context.Context, roomID string) ([]Participant, error)
	AddChatParticipant(ctx context.Context, roomID, participantID, role string) error
	RemoveChatParticipant(ctx context.Context, roomID, participantID string) error
	CreateChatMessage(ctx context.Context, roomID, content string, mentions []Mention) (*MessagePayload, error)
	CreateChatEvent(ctx context.Context, roomID, content, messageType string, metadata map[string]any) (*MessagePayload, error)
	ListPeers(ctx context.Context, page, pageSize int, notInChat string) (*PeerPage, error)
	NextMessage(ctx context.Context, roomID string) (*PlatformMessage, error)
	MarkProcessing(ctx context.Context, roomID, messageID string) error
	MarkProcessed(ctx context.Context, roomID, messageID string) error
	MarkFailed(ctx context.Context, roomID, messageID, errMsg string) error
}

// RestClient talks to the platform's agent REST API. Safe for concurrent
// use by all room workers; the underlying http.Client pools connections.
type RestClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRestClient creates a REST client for the given base URL and API key.
func NewRestClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *RestClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RestClient{baseURL: baseURL, apiKey: apiKey, httpClient: httpClient, logger: logger}
}

// envelope is the platform's standard response wrapper.
type envelope[T any] struct {
	Data     T             `json:"data"`
	Metadata *pageMetadata `json:"metadata,omitempty"`
}

type pageMetadata struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// statusError reports a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// do issues a request and decodes the enveloped response into out.
// A nil out skips decoding. Returns the HTTP status code.
func (c *RestClient) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &statusError{Code: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// wrap classifies a request error as auth or transport.
func wrapRESTError(op string, status int, err error) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return authError(op, err)
	}
	return transportError(op, err)
}

// Me fetches this agent's own platform profile.
func (c *RestClient) Me(ctx context.Context) (*AgentProfile, error) {
	var resp envelope[*AgentProfile]
	status, err := c.do(ctx, http.MethodGet, "/api/agent/me", nil, nil, &resp)
	if err != nil {
		return nil, wrapRESTError("get agent me", status, err)
	}
	if resp.Data == nil {
		return nil, transportError("get agent me", fmt.Errorf("no response data"))
	}
	return resp.Data, nil
}

// ListChats returns the rooms this agent participates in.
func (c *RestClient) ListChats(ctx context.Context) ([]RoomPayload, error) {
	var resp envelope[[]RoomPayload]
	status, err := c.do(ctx, http.MethodGet, "/api/agent/chats", nil, nil, &resp)
	if err != nil {
		return nil, wrapRESTError("list chats", status, err)
	}
	return resp.Data, nil
}

// CreateChat creates a new room, optionally linked to a task.
func (c *RestClient) CreateChat(ctx context.Context, name, taskID string) (*RoomPayload, error) {
	body := map[string]any{"title": name}
	if taskID != "" {
		body["task_id"] = taskID
	}
	var resp envelope[*RoomPayload]
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats", nil, body, &resp)
	if err != nil {
		return nil, wrapRESTError("create chat", status, err)
	}
	if resp.Data == nil {
		return nil, transportError("create chat", fmt.Errorf("no response data"))
	}
	return resp.Data, nil
}

// ChatContext fetches the room's prior message history.
func (c *RestClient) ChatContext(ctx context.Context, roomID string) ([]ContextMessage, error) {
	var resp envelope[[]ContextMessage]
	status, err := c.do(ctx, http.MethodGet, "/api/agent/chats/"+roomID+"/context", nil, nil, &resp)
	if err != nil {
		return nil, wrapRESTError("get chat context", status, err)
	}
	return resp.Data, nil
}

// ListChatParticipants returns the room's current participants.
func (c *RestClient) ListChatParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	var resp envelope[[]Participant]
	status, err := c.do(ctx, http.MethodGet, "/api/agent/chats/"+roomID+"/participants", nil, nil, &resp)
	if err != nil {
		return nil, wrapRESTError("list participants", status, err)
	}
	return resp.Data, nil
}

// AddChatParticipant adds a participant to the room by ID.
func (c *RestClient) AddChatParticipant(ctx context.Context, roomID, participantID, role string) error {
	body := map[string]any{"participant_id": participantID, "role": role}
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats/"+roomID+"/participants", nil, body, nil)
	if err != nil {
		return wrapRESTError("add participant", status, err)
	}
	return nil
}

// RemoveChatParticipant removes a participant from the room by ID.
func (c *RestClient) RemoveChatParticipant(ctx context.Context, roomID, participantID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/api/agent/chats/"+roomID+"/participants/"+participantID, nil, nil, nil)
	if err != nil {
		return wrapRESTError("remove participant", status, err)
	}
	return nil
}

// CreateChatMessage posts a text message to the room.
func (c *RestClient) CreateChatMessage(ctx context.Context, roomID, content string, mentions []Mention) (*MessagePayload, error) {
	if mentions == nil {
		mentions = []Mention{}
	}
	body := map[string]any{"content": content, "mentions": mentions}
	var resp envelope[*MessagePayload]
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats/"+roomID+"/messages", nil, body, &resp)
	if err != nil {
		return nil, wrapRESTError("create message", status, err)
	}
	if resp.Data == nil {
		return nil, transportError("create message", fmt.Errorf("no response data"))
	}
	return resp.Data, nil
}

// CreateChatEvent posts a structured non-chat event to the room.
func (c *RestClient) CreateChatEvent(ctx context.Context, roomID, content, messageType string, metadata map[string]any) (*MessagePayload, error) {
	body := map[string]any{"content": content, "message_type": messageType}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var resp envelope[*MessagePayload]
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats/"+roomID+"/events", nil, body, &resp)
	if err != nil {
		return nil, wrapRESTError("create event", status, err)
	}
	if resp.Data == nil {
		return nil, transportError("create event", fmt.Errorf("no response data"))
	}
	return resp.Data, nil
}

// ListPeers looks up platform peers, optionally excluding those already
// in the given room.
func (c *RestClient) ListPeers(ctx context.Context, page, pageSize int, notInChat string) (*PeerPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	if notInChat != "" {
		query.Set("not_in_chat", notInChat)
	}
	var resp envelope[[]Peer]
	status, err := c.do(ctx, http.MethodGet, "/api/agent/peers", query, nil, &resp)
	if err != nil {
		return nil, wrapRESTError("list peers", status, err)
	}
	result := &PeerPage{Peers: resp.Data, Page: page, PageSize: pageSize, TotalCount: len(resp.Data), TotalPages: 1}
	if resp.Metadata != nil {
		result.Page = resp.Metadata.Page
		result.PageSize = resp.Metadata.PageSize
		result.TotalCount = resp.Metadata.TotalCount
		result.TotalPages = resp.Metadata.TotalPages
	}
	return result, nil
}

// NextMessage fetches the next unprocessed message for a room, used to
// replay backlog missed while the agent was offline. Returns (nil, nil)
// when the server reports 204 No Content.
func (c *RestClient) NextMessage(ctx context.Context, roomID string) (*PlatformMessage, error) {
	var resp envelope[*MessagePayload]
	status, err := c.do(ctx, http.MethodGet, "/api/agent/chats/"+roomID+"/messages/next", nil, nil, &resp)
	if err != nil {
		return nil, wrapRESTError("get next message", status, err)
	}
	if status == http.StatusNoContent || resp.Data == nil {
		return nil, nil
	}
	return messageFromPayload(roomID, resp.Data), nil
}

// MarkProcessing tells the server this message is being handled, so the
// backlog endpoint stops returning it.
func (c *RestClient) MarkProcessing(ctx context.Context, roomID, messageID string) error {
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats/"+roomID+"/messages/"+messageID+"/processing", nil, nil, nil)
	if err != nil {
		return wrapRESTError("mark processing", status, err)
	}
	return nil
}

// MarkProcessed clears the message from the server's unprocessed queue.
func (c *RestClient) MarkProcessed(ctx context.Context, roomID, messageID string) error {
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats/"+roomID+"/messages/"+messageID+"/processed", nil, nil, nil)
	if err != nil {
		return wrapRESTError("mark processed", status, err)
	}
	return nil
}

// MarkFailed records a processing failure on the server.
func (c *RestClient) MarkFailed(ctx context.Context, roomID, messageID, errMsg string) error {
	body := map[string]any{"error": errMsg}
	status, err := c.do(ctx, http.MethodPost, "/api/agent/chats/"+roomID+"/messages/"+messageID+"/failed", nil, body, nil)
	if err != nil {
		return wrapRESTError("mark failed", status, err)
	}
	return nil
}

var _ RestAPI = (*RestClient)(nil)
