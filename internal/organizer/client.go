package organizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/dns"
	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/store"
)

// UserHeader names the caller on every request.
const UserHeader = "X-User-ID"

const requestTimeout = 10 * time.Second

var ErrMissingUser = errors.New("a user id is required")

// ActionError is a rejected or failed start/stop request.
type ActionError struct {
	Action    string
	MeetingID string
	Reason    string
	Status    int
}

func (e *ActionError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s conference %s: %s", e.Action, e.MeetingID, e.Reason)
	}
	return fmt.Sprintf("%s conference %s: %s (HTTP %d)", e.Action, e.MeetingID, e.Reason, e.Status)
}

// Response mirrors the server's action body.
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Meeting *store.Meeting `json:"meeting,omitempty"`
}

// Meeting is one entry of the meeting listing.
type Meeting struct {
	store.Meeting
	Participants int `json:"participants"`
}

// Client calls the organizer endpoints of the signaling server.
type Client struct {
	cfg  *config.Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dns.DialContext

	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport, Timeout: requestTimeout},
		log:  logging.OrDefault(log).With("component", "organizer"),
	}
}

// Start marks the meeting's conference active. Only its organizer may.
func (c *Client) Start(ctx context.Context, meetingID string) (*store.Meeting, error) {
	return c.action(ctx, "start", meetingID)
}

// Stop ends the meeting's conference for everyone in it.
func (c *Client) Stop(ctx context.Context, meetingID string) (*store.Meeting, error) {
	return c.action(ctx, "stop", meetingID)
}

func (c *Client) action(ctx context.Context, action, meetingID string) (*store.Meeting, error) {
	if c.cfg.UserID == "" {
		return nil, &ActionError{Action: action, MeetingID: meetingID, Reason: ErrMissingUser.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ConferenceURL(action, meetingID), nil)
	if err != nil {
		return nil, &ActionError{Action: action, MeetingID: meetingID, Reason: err.Error()}
	}
	req.Header.Set(UserHeader, c.cfg.UserID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ActionError{Action: action, MeetingID: meetingID, Reason: err.Error()}
	}
	defer resp.Body.Close()

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ActionError{Action: action, MeetingID: meetingID, Reason: "invalid response: " + err.Error(), Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		reason := body.Error
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return nil, &ActionError{Action: action, MeetingID: meetingID, Reason: reason, Status: resp.StatusCode}
	}

	c.log.Info("conference "+action, "meeting", meetingID)
	return body.Meeting, nil
}

// ListMeetings returns every meeting the server knows about.
func (c *Client) ListMeetings(ctx context.Context) ([]Meeting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.MeetingsURL(), nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.UserID != "" {
		req.Header.Set(UserHeader, c.cfg.UserID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list meetings: HTTP %d", resp.StatusCode)
	}

	var meetings []Meeting
	if err := json.NewDecoder(resp.Body).Decode(&meetings); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, nil
}
