package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

// Client reads participant profiles (points, equipped item, title) from the
// platform API using a service token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) authHeader() string {
	return "Bearer " + c.token
}

type profileResponse struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	Points         int64    `json:"points"`
	EquippedWeapon string   `json:"equippedWeapon"`
	OwnedWeapons   []string `json:"ownedWeapons"`
	TitleTag       string   `json:"titleTag"`
	TitleRate      float64  `json:"titleRate"`
	Error          string   `json:"error"`
}

// Profile implements modifier.ProfileSource.
func (c *Client) Profile(ctx context.Context, participantID string) (modifier.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/profile/"+url.PathEscape(participantID), nil)
	if err != nil {
		return modifier.Profile{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.authHeader())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return modifier.Profile{}, fmt.Errorf("platform: profile %s: %w", participantID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var data profileResponse
	_ = json.Unmarshal(body, &data)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return modifier.Profile{}, fmt.Errorf("platform: %w: %s", modifier.ErrProfileNotFound, participantID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return modifier.Profile{}, fmt.Errorf("platform: profile %s: %w", participantID, round.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return modifier.Profile{}, fmt.Errorf("platform: profile %s: status %d: %s", participantID, resp.StatusCode, data.Error)
	}

	id := data.ID
	if id == "" {
		id = participantID
	}
	return modifier.Profile{
		ParticipantID:  id,
		Name:           data.Username,
		Points:         data.Points,
		EquippedItemID: data.EquippedWeapon,
		OwnedItems:     data.OwnedWeapons,
		TitleTag:       data.TitleTag,
		TitleRate:      data.TitleRate,
	}, nil
}
