package speech

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yuechen/ai-roleplay/backend/internal/config"
)

// Token 是语音网关的短期凭证，ExpireAt 为秒级时间戳。
type Token struct {
	ID       string `json:"token"`
	ExpireAt int64  `json:"expireTime"`
}

// expirySlack re-issues slightly before the provider-reported expiry.
const expirySlack = 60 * time.Second

// TokenIssuer obtains ISI tokens via the CreateToken RPC and caches the
// result until shortly before expiry. Safe for concurrent use.
type TokenIssuer struct {
	cfg      config.SpeechConfig
	client   *http.Client
	endpoint string
	now      func() time.Time

	mu     sync.Mutex
	cached Token
}

// NewTokenIssuer 创建签发器；凭证缺失在调用时报告，而不是在构造时。
func NewTokenIssuer(cfg config.SpeechConfig) *TokenIssuer {
	return &TokenIssuer{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: "https://" + cfg.TokenHost + "/",
		now:      time.Now,
	}
}

// Token returns a valid token, re-issuing only when the cached one is
// absent or within a minute of expiry.
func (t *TokenIssuer) Token(ctx context.Context) (Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cached.ID != "" && t.now().Add(expirySlack).Unix() < t.cached.ExpireAt {
		return t.cached, nil
	}

	token, err := t.issue(ctx)
	if err != nil {
		return Token{}, err
	}
	t.cached = token
	return token, nil
}

// issue performs the signed CreateToken call (POP RPC, HMAC-SHA1).
func (t *TokenIssuer) issue(ctx context.Context) (Token, error) {
	if t.cfg.AKID == "" || t.cfg.AKSecret == "" {
		return Token{}, fmt.Errorf("缺少 ALIYUN_AK_ID / ALIYUN_AK_SECRET")
	}

	params := map[string]string{
		"AccessKeyId":      t.cfg.AKID,
		"Action":           "CreateToken",
		"Format":           "JSON",
		"RegionId":         t.cfg.Region,
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureNonce":   hexID(),
		"SignatureVersion": "1.0",
		"Timestamp":        t.now().UTC().Format("2006-01-02T15:04:05Z"),
		"Version":          "2019-02-28",
	}
	params["Signature"] = signRPC(params, t.cfg.AKSecret)

	requestURL := t.endpoint + "?" + encodeParams(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, nil)
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}

	var payload struct {
		Token struct {
			ID         string `json:"Id"`
			ExpireTime int64  `json:"ExpireTime"`
		} `json:"Token"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || payload.Token.ID == "" {
		return Token{}, fmt.Errorf("CreateToken failed (status %d): %s", resp.StatusCode, payload.Message)
	}

	return Token{ID: payload.Token.ID, ExpireAt: payload.Token.ExpireTime}, nil
}

// signRPC computes the POP RPC signature over the sorted, percent-encoded
// parameter set.
func signRPC(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, popEncode(key)+"="+popEncode(params[key]))
	}
	canonical := strings.Join(pairs, "&")
	stringToSign := "POST&" + popEncode("/") + "&" + popEncode(canonical)

	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func encodeParams(params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	return values.Encode()
}

// popEncode applies the RFC 3986 variant the RPC signature requires.
func popEncode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	encoded = strings.ReplaceAll(encoded, "*", "%2A")
	encoded = strings.ReplaceAll(encoded, "%7E", "~")
	return encoded
}
