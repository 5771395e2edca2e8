// Package chatty provides a client for the chatty HTTP API and event bus bridge.
package chatty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client is a chatty API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	UserID     string
	Email      string
	HTTPClient *http.Client
}

// Config holds the registered user on disk.
type Config struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NewClient creates a new chatty client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("CHATTY_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".chatty")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads the registered user from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "user.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.UserID = config.ID
	c.Email = config.Email
	return nil
}

// SaveConfig saves the registered user to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{ID: c.UserID, Email: c.Email}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "user.json"), data, 0600)
}

// doRequest performs an HTTP request and returns the response body.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("chatty error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

func (c *Client) getJSON(path string, v any) error {
	respBody, err := c.doRequest("GET", path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, v)
}

func (c *Client) postJSON(path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	respBody, err := c.doRequest("POST", path, body)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

// HealthResponse is the response from the health check.
type HealthResponse struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	// A degraded server answers 503 with a body; report it as an error.
	if err := c.getJSON("/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterResponse is the response from user registration.
type RegisterResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ProfileURL string `json:"profile_url"`
}

// Register resolves email to a user and remembers it.
func (c *Client) Register(email string) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.postJSON("/register", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}

	c.UserID = resp.ID
	c.Email = resp.Email
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Room is a room in list responses.
type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	General bool   `json:"general,omitempty"`
	Present int    `json:"present"`
}

// RoomsResponse is the response from listing rooms.
type RoomsResponse struct {
	Channels []Room `json:"channels"`
	Total    int    `json:"total"`
}

// ListRooms lists rooms.
func (c *Client) ListRooms() (*RoomsResponse, error) {
	var resp RoomsResponse
	if err := c.getJSON("/rooms?limit=100", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GeneralRoom returns the id of the General room.
func (c *Client) GeneralRoom() (string, error) {
	rooms, err := c.ListRooms()
	if err != nil {
		return "", err
	}
	for _, r := range rooms.Channels {
		if r.General {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("chatty: no general room listed")
}

// CreateRoom finds or creates a room by name.
func (c *Client) CreateRoom(name string) (*Room, error) {
	var resp Room
	if err := c.postJSON("/rooms", map[string]string{"name": name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryResponse holds [time, email, text] rows.
type HistoryResponse struct {
	History [][3]string `json:"history"`
}

// History returns a room's message history.
func (c *Client) History(roomID string) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.getJSON("/history/"+url.PathEscape(roomID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MembersResponse lists the users present in a room.
type MembersResponse struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// Members returns who is present in a room.
func (c *Client) Members(roomID string) (*MembersResponse, error) {
	var resp MembersResponse
	if err := c.getJSON("/rooms/"+url.PathEscape(roomID)+"/members", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
