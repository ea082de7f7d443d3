// Command loginstorm hammers the login endpoint with concurrent logins for
// the same account to exercise the session-claim race. Every attempt must
// end in exactly one of: success, claim_lost, or rate_limited — and at the
// end of the storm at most one of the issued sessions may still satisfy the
// guard.
//
//	loginstorm -url http://localhost:8080 -username alice -credential pw -concurrency 16 -duration 10s
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type counters struct {
	success     atomic.Int64
	claimLost   atomic.Int64
	rateLimited atomic.Int64
	locked      atomic.Int64
	other       atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "portal base URL")
	username := flag.String("username", "", "account username (required)")
	credential := flag.String("credential", "", "account credential (required)")
	concurrency := flag.Int("concurrency", 8, "concurrent login workers")
	duration := flag.Duration("duration", 10*time.Second, "storm duration")
	flag.Parse()

	if *username == "" || *credential == "" {
		flag.Usage()
		os.Exit(2)
	}

	var stats counters
	var sessionsMu sync.Mutex
	var sessions []string // cookies issued by successful logins

	deadline := time.Now().Add(*duration)
	var wg sync.WaitGroup

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
			for time.Now().Before(deadline) {
				cookie, reason := attemptLogin(client, *baseURL, *username, *credential)
				switch reason {
				case "":
					stats.success.Add(1)
					sessionsMu.Lock()
					sessions = append(sessions, cookie)
					sessionsMu.Unlock()
				case "claim_lost":
					stats.claimLost.Add(1)
				case "rate_limited":
					stats.rateLimited.Add(1)
				case "account_locked":
					stats.locked.Add(1)
				default:
					stats.other.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	fmt.Printf("logins:       %d\n", stats.success.Load())
	fmt.Printf("claim_lost:   %d\n", stats.claimLost.Load())
	fmt.Printf("rate_limited: %d\n", stats.rateLimited.Load())
	fmt.Printf("locked:       %d\n", stats.locked.Load())
	fmt.Printf("other:        %d\n", stats.other.Load())

	// Single-session check: of all cookies issued during the storm, at most
	// one may still be the account's active session.
	client := &http.Client{Timeout: 5 * time.Second}
	active := 0
	for _, c := range sessions {
		if probeActive(client, *baseURL, c) {
			active++
		}
	}
	fmt.Printf("still_active: %d of %d issued sessions\n", active, len(sessions))
	if active > 1 {
		log.Fatalf("INVARIANT VIOLATED: %d sessions active simultaneously", active)
	}
}

// attemptLogin posts the login form once. Returns the session cookie and an
// empty reason on success, or the rejection reason tag.
func attemptLogin(client *http.Client, baseURL, username, credential string) (cookie, reason string) {
	form := url.Values{"username": {username}, "password": {credential}}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "request_error"
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", "network_error"
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		for _, c := range resp.Cookies() {
			if c.Name == "skycast_sid" && c.Value != "" {
				return c.Value, ""
			}
		}
		return "", "missing_cookie"
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return "", fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return "", body.Error
}

// probeActive asks the session probe whether the given session cookie is
// still the account's active session.
func probeActive(client *http.Client, baseURL, sid string) bool {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/session", nil)
	if err != nil {
		return false
	}
	req.AddCookie(&http.Cookie{Name: "skycast_sid", Value: sid})

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Active
}
