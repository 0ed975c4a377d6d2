package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenSource fetches client-credentials bearer tokens and caches them
// until shortly before they expire.
type tokenSource struct {
	url    string
	key    string
	secret string
	client *http.Client
	now    func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// Refresh margin so a token is never sent in its last minutes.
const tokenSkew = 5 * time.Minute

func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && ts.now().Before(ts.expiry) {
		token := ts.token
		ts.mu.RUnlock()
		return token, nil
	}
	ts.mu.RUnlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiry) {
		return ts.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.url, strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(ts.key, ts.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch gateway token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway token endpoint returned %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode gateway token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("gateway token endpoint returned an empty token")
	}

	ts.token = tr.AccessToken
	ts.expiry = ts.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSkew)
	return ts.token, nil
}

// Invalidate drops the cached token, e.g. after a 401.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}
