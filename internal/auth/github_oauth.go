package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/gradebook/internal/model"
)

const (
	defaultGitHubAuthURL    = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL   = "https://github.com/login/oauth/access_token"
	defaultGitHubProfileURL = "https://api.github.com/user"

	// maxResponseSize はプロバイダ応答として読み込む最大バイト数。
	maxResponseSize = 1 << 20
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string

	// HTTPClient が nil の場合は http.DefaultClient を使用する。
	HTTPClient *http.Client
}

// GitHubOAuthProvider はGitHub OAuthによる認証を提供する。
type GitHubOAuthProvider struct {
	config GitHubOAuthConfig
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGitHubAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGitHubTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultGitHubProfileURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &GitHubOAuthProvider{config: config}
}

// ClientID はOAuthアプリケーションのクライアントIDを返す。
func (p *GitHubOAuthProvider) ClientID() string {
	return p.config.ClientID
}

// GetLoginURL はGitHubの認可URLを生成する。
func (p *GitHubOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id": {p.config.ClientID},
		"state":     {state},
	}
	if p.config.RedirectURL != "" {
		params.Set("redirect_uri", p.config.RedirectURL)
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// githubTokenResponse はGitHubのトークンエンドポイントのレスポンス。
// GitHubは失敗時も200でerrorフィールドを返す。
type githubTokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// githubProfile はGitHubの/userエンドポイントのレスポンス。
// nameは未設定のユーザーではnullになる。
type githubProfile struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Name      *string `json:"name"`
	AvatarURL string  `json:"avatar_url"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールを取得する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code string) (model.Profile, error) {
	accessToken, err := p.ExchangeToken(ctx, code)
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	profile, err := p.FetchProfile(ctx, accessToken)
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return profile, nil
}

// ExchangeToken は認可コードをアクセストークンに交換する。
func (p *GitHubOAuthProvider) ExchangeToken(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
	}
	if p.config.RedirectURL != "" {
		data.Set("redirect_uri", p.config.RedirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp githubTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("token exchange rejected: %s: %s", tokenResp.Error, tokenResp.ErrorDescription)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return tokenResp.AccessToken, nil
}

// FetchProfile はアクセストークンでGitHubのプロフィールを取得する。
func (p *GitHubOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (model.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProfileURL, nil)
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	body, err := p.do(req)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile request failed: %w", err)
	}

	var gp githubProfile
	if err := json.Unmarshal(body, &gp); err != nil {
		return model.Profile{}, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if gp.Login == "" {
		return model.Profile{}, fmt.Errorf("empty login in profile response")
	}

	profile := model.Profile{
		ID:        gp.ID,
		Login:     gp.Login,
		AvatarURL: gp.AvatarURL,
	}
	if gp.Name != nil {
		profile.Name = *gp.Name
	}
	return profile, nil
}

// do はリクエストを送信し、200以外のステータスをエラーとして本文を返す。
func (p *GitHubOAuthProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
