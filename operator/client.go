// Package operator talks to an operator's seamless-wallet endpoint. Calls are
// signed GET requests; amounts are integer points.
package operator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/wallet"
)

// Operator response codes.
const (
	CodeOK                = 0
	CodeTechnicalError    = 1
	CodeSessionInvalid    = 2
	CodeInsufficientFunds = 3
	CodeRateLimited       = 9
	CodeParameterRequired = 13
)

type Client struct {
	endpoint string
	secret   string
	http     *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
}

type Response struct {
	Code       int             `json:"code"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Balance    json.Number     `json:"balance"`
	Body       json.RawMessage `json:"-"`
	StatusCode int             `json:"-"`
}

// Error is a non-success operator answer.
type Error struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("operator: http %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

func (e *Error) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == CodeRateLimited
}

func (e *Error) IsInsufficientFunds() bool {
	return e.Code == CodeInsufficientFunds
}

func (e *Error) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}

// Is lets callers match round.ErrRateLimited with errors.Is.
func (e *Error) Is(target error) bool {
	return target == round.ErrRateLimited && e.IsRateLimited()
}

// NewClient builds a client limited to rps requests per second (0 disables the limiter).
func NewClient(endpoint, secret string, rps float64, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  lim,
		log:      log,
	}
}

func (c *Client) call(ctx context.Context, params map[string]string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("operator: rate limiter: %w", err)
	}
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if c.secret != "" {
		values.Set("signature", c.sign(values))
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("operator: endpoint: %w", err)
	}
	u.RawQuery = values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("operator: %s: %w", params["action"], err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.log.Warn("operator rate limited", "action", params["action"], "retry_after", resp.Header.Get("Retry-After"))
		return nil, &Error{StatusCode: resp.StatusCode, Code: CodeRateLimited, Message: "too many requests"}
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Code: CodeTechnicalError, Message: "undecodable body: " + err.Error()}
	}
	out := &Response{Body: body, StatusCode: resp.StatusCode}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	_ = dec.Decode(out)
	if resp.StatusCode >= 500 {
		return nil, &Error{StatusCode: resp.StatusCode, Code: out.Code, Message: out.Message}
	}
	return out, nil
}

func (c *Client) sign(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		if k == "action" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := make([]byte, 0, 256)
	for _, k := range keys {
		buf = append(buf, v.Get(k)...)
	}
	m := hmac.New(sha256.New, []byte(c.secret))
	m.Write(buf)
	return hex.EncodeToString(m.Sum(nil))
}

func (r *Response) balance() int64 {
	if r.Balance == "" {
		return 0
	}
	if n, err := r.Balance.Int64(); err == nil {
		return n
	}
	f, _ := r.Balance.Float64()
	return int64(f)
}

func (r *Response) err() error {
	if r.Code == CodeOK {
		return nil
	}
	return &Error{StatusCode: r.StatusCode, Code: r.Code, Message: r.Message}
}

// Balance returns the player's current points.
func (c *Client) Balance(ctx context.Context, playerID string) (int64, error) {
	resp, err := c.call(ctx, map[string]string{
		"action":    "balance",
		"player_id": playerID,
	})
	if err != nil {
		return 0, err
	}
	if err := resp.err(); err != nil {
		return 0, err
	}
	return resp.balance(), nil
}

// Debit implements wallet.Gateway. Insufficient funds come back as OK=false.
func (c *Client) Debit(ctx context.Context, playerID string, amount int64, reason string, meta wallet.Meta) (wallet.DebitResult, error) {
	resp, err := c.call(ctx, map[string]string{
		"action":     "debit",
		"player_id":  playerID,
		"session_id": meta[wallet.MetaSessionID],
		"round_id":   meta[wallet.MetaRoundID],
		"tx_id":      meta[wallet.MetaTxID],
		"game_code":  meta[wallet.MetaGameID],
		"bet_amount": formatAmount(amount),
		"reason":     reason,
	})
	if err != nil {
		return wallet.DebitResult{}, err
	}
	switch resp.Code {
	case CodeOK:
		return wallet.DebitResult{OK: true, Balance: resp.balance(), Charged: amount}, nil
	case CodeInsufficientFunds:
		return wallet.DebitResult{OK: false, Balance: resp.balance()}, nil
	}
	return wallet.DebitResult{}, resp.err()
}

// Credit implements wallet.Gateway. A wager refund goes out as the refund action.
func (c *Client) Credit(ctx context.Context, playerID string, amount int64, reason string, meta wallet.Meta) error {
	params := map[string]string{
		"player_id":  playerID,
		"session_id": meta[wallet.MetaSessionID],
		"round_id":   meta[wallet.MetaRoundID],
		"tx_id":      meta[wallet.MetaTxID],
		"game_code":  meta[wallet.MetaGameID],
		"reason":     reason,
	}
	if reason == wallet.ReasonRefund {
		params["action"] = "refund"
		params["refund_amount"] = formatAmount(amount)
	} else {
		params["action"] = "credit"
		params["win_amount"] = formatAmount(amount)
		params["round_status"] = "completed"
	}
	resp, err := c.call(ctx, params)
	if err != nil {
		return err
	}
	return resp.err()
}

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}
