package social

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/dennispaul8/bot-dashboard/internal/models"
	"golang.org/x/time/rate"
)

// Client handles Twitter API v2 interactions. Reads use the app bearer
// token; posting and media upload sign each request with the account's
// OAuth 1.0a token pair.
type Client struct {
	apiKey      string
	apiSecret   string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger

	apiBaseURL    string
	uploadBaseURL string
}

// NewClient creates a new Twitter API client. ratePerSec bounds all
// outbound calls across accounts.
func NewClient(apiKey, apiSecret, bearerToken string, ratePerSec int, timeout time.Duration, logger *slog.Logger) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		bearerToken: bearerToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:       rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		logger:        logger,
		apiBaseURL:    "https://api.twitter.com",
		uploadBaseURL: "https://upload.twitter.com",
	}
}

// APIError carries the upstream status for error classification.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter API returned status %d: %s", e.StatusCode, e.Body)
}

// ErrorClass buckets an outbound-call failure by how the caller should
// react to it.
type ErrorClass string

const (
	ClassRateLimited ErrorClass = "rate_limited"
	ClassAuthExpired ErrorClass = "auth_expired"
	ClassUpstream    ErrorClass = "upstream"
	ClassUnknown     ErrorClass = "unknown"
)

// Classify maps an error from a client call onto an ErrorClass. Network
// failures and timeouts are Unknown.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ClassUnknown
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimited
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return ClassAuthExpired
	case apiErr.StatusCode >= 500:
		return ClassUpstream
	default:
		return ClassUnknown
	}
}

// UserProfile is the subset of a user lookup the bot cares about.
type UserProfile struct {
	ID              string
	Username        string
	Name            string
	Followers       int64
	Following       int64
	ProfileImageURL string
}

type userLookupResponse struct {
	Data struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Username      string `json:"username"`
		PublicMetrics struct {
			FollowersCount int64 `json:"followers_count"`
			FollowingCount int64 `json:"following_count"`
		} `json:"public_metrics"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Title   string `json:"title"`
	} `json:"errors,omitempty"`
}

// LookupUser fetches a user's public metrics by platform id using the app
// bearer token.
func (c *Client) LookupUser(ctx context.Context, twitterID string) (*UserProfile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	apiURL := fmt.Sprintf("%s/2/users/%s?user.fields=public_metrics,profile_image_url",
		c.apiBaseURL, url.PathEscape(twitterID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.bearerToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var lookup userLookupResponse
	if err := json.Unmarshal(bodyBytes, &lookup); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if lookup.Data.ID == "" {
		if len(lookup.Errors) > 0 {
			return nil, fmt.Errorf("twitter API error: %s", lookup.Errors[0].Message)
		}
		return nil, fmt.Errorf("twitter API returned no user data")
	}

	return &UserProfile{
		ID:              lookup.Data.ID,
		Username:        lookup.Data.Username,
		Name:            lookup.Data.Name,
		Followers:       lookup.Data.PublicMetrics.FollowersCount,
		Following:       lookup.Data.PublicMetrics.FollowingCount,
		ProfileImageURL: lookup.Data.ProfileImageURL,
	}, nil
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// UploadMedia uploads a GIF through the v1.1 media endpoint on behalf of
// the account and returns the media handle for attaching to a tweet.
func (c *Client) UploadMedia(ctx context.Context, creds models.Credentials, media []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	apiURL := c.uploadBaseURL + "/1.1/media/upload.json"

	form := map[string]string{
		"media_data":     base64.StdEncoding.EncodeToString(media),
		"media_category": "tweet_gif",
	}

	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(values.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Form parameters participate in the OAuth 1.0a signature base string.
	authHeader, err := c.generateOAuthHeader(http.MethodPost, apiURL, form, creds)
	if err != nil {
		return "", fmt.Errorf("failed to generate OAuth header: %w", err)
	}
	req.Header.Set("Authorization", authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var upload mediaUploadResponse
	if err := json.Unmarshal(bodyBytes, &upload); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if upload.MediaIDString == "" {
		return "", fmt.Errorf("media upload returned no media id")
	}

	c.logger.Info("media uploaded", "media_id", upload.MediaIDString, "bytes", len(media))

	return upload.MediaIDString, nil
}

type tweetRequest struct {
	Text  string `json:"text"`
	Media *struct {
		MediaIDs []string `json:"media_ids"`
	} `json:"media,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"errors,omitempty"`
}

// PostTweet publishes a notification through the v2 post endpoint on
// behalf of the account and returns the tweet id.
func (c *Client) PostTweet(ctx context.Context, creds models.Credentials, notification models.Notification) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	apiURL := c.apiBaseURL + "/2/tweets"

	tweetReq := tweetRequest{Text: notification.Body()}
	if withMedia, ok := notification.(models.MediaNotification); ok {
		tweetReq.Media = &struct {
			MediaIDs []string `json:"media_ids"`
		}{MediaIDs: []string{withMedia.MediaHandle}}
	}

	bodyBytes, err := json.Marshal(tweetReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tweet request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	authHeader, err := c.generateOAuthHeader(http.MethodPost, apiURL, nil, creds)
	if err != nil {
		return "", fmt.Errorf("failed to generate OAuth header: %w", err)
	}
	req.Header.Set("Authorization", authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post tweet: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tweetResp tweetResponse
	if err := json.Unmarshal(bodyBytes, &tweetResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if tweetResp.Data.ID == "" {
		if len(tweetResp.Errors) > 0 {
			return "", fmt.Errorf("twitter API error: %s", tweetResp.Errors[0].Message)
		}
		return "", fmt.Errorf("tweet response carried no id")
	}

	c.logger.Info("tweet posted successfully",
		"tweet_id", tweetResp.Data.ID,
		"text_length", len(notification.Body()))

	return tweetResp.Data.ID, nil
}

// generateOAuthHeader generates an OAuth 1.0a authorization header signed
// with the app keys and the account's token pair.
func (c *Client) generateOAuthHeader(method, apiURL string, params map[string]string, creds models.Credentials) (string, error) {
	// Generate nonce
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonceStr := base64.StdEncoding.EncodeToString(nonce)
	nonceStr = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, nonceStr)

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	oauthParams := map[string]string{
		"oauth_consumer_key":     c.apiKey,
		"oauth_nonce":            nonceStr,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        timestamp,
		"oauth_token":            creds.AccessToken,
		"oauth_version":          "1.0",
	}

	// Combine OAuth params with request params
	allParams := make(map[string]string)
	for k, v := range oauthParams {
		allParams[k] = v
	}
	for k, v := range params {
		allParams[k] = v
	}

	// Create parameter string
	var paramPairs []string
	for k, v := range allParams {
		paramPairs = append(paramPairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	sort.Strings(paramPairs)
	paramString := strings.Join(paramPairs, "&")

	// Create signature base string
	signatureBase := method + "&" + url.QueryEscape(apiURL) + "&" + url.QueryEscape(paramString)

	// Create signing key
	signingKey := url.QueryEscape(c.apiSecret) + "&" + url.QueryEscape(creds.AccessSecret)

	// Generate signature
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(signatureBase))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	oauthParams["oauth_signature"] = signature

	// Build authorization header
	var authPairs []string
	for k, v := range oauthParams {
		authPairs = append(authPairs, url.QueryEscape(k)+"=\""+url.QueryEscape(v)+"\"")
	}
	sort.Strings(authPairs)

	return "OAuth " + strings.Join(authPairs, ", "), nil
}
