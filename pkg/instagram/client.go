package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"igfeed/pkg/config"
	errs "igfeed/pkg/errors"
	"igfeed/pkg/feed"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
	"igfeed/pkg/ratelimit"
	"igfeed/pkg/retry"
	"igfeed/pkg/telemetry"
)

const csrfCookie = "csrftoken"

var csrfInPage = regexp.MustCompile(`"csrf_token":"([^"]+)"`)

// Client talks to the Instagram web API with a cookie-backed session
type Client struct {
	api      *resty.Client
	media    *resty.Client
	jar      *cookiejar.Jar
	base     *url.URL
	appID    string
	pageSize int
	limiter  ratelimit.Limiter
	retry    *retry.Config
	now      func() time.Time
	logger   logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLimiter replaces the rate limiter gating API calls
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry replaces the retry configuration used for media downloads
func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithPageSize sets how many posts each timeline request asks for
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithClock overrides the time source used for password timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client from the instagram, rate_limit and download
// sections of cfg
func NewClient(cfg *config.Config, log logger.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	rawBase := cfg.Instagram.BaseURL
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid instagram base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	api := resty.New()
	api.SetBaseURL(base.String())
	api.SetCookieJar(jar)
	api.SetTimeout(cfg.Instagram.RequestTimeout)
	api.SetHeaders(map[string]string{
		"User-Agent":      cfg.Instagram.UserAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	})
	telemetry.InstrumentResty(api, "igfeed/instagram/api")

	media := resty.New()
	media.SetTimeout(cfg.Download.Timeout)
	media.SetHeader("User-Agent", cfg.Instagram.UserAgent)
	telemetry.InstrumentResty(media, "igfeed/instagram/media")

	c := &Client{
		api:      api,
		media:    media,
		jar:      jar,
		base:     base,
		appID:    cfg.Instagram.AppID,
		pageSize: DefaultMediaLimit,
		limiter:  ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize),
		retry: &retry.Config{
			MaxAttempts: cfg.Download.RetryAttempts + 1,
			Backoff: &retry.ExponentialBackoff{
				BaseDelay:    cfg.Download.RetryDelay,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				JitterFactor: 0.1,
			},
			RetryIf: retry.DefaultRetryIf,
			Sleeper: retry.ContextSleeper{},
			Logger:  log,
		},
		now:    time.Now,
		logger: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login submits credentials. The returned error carries the errors taxonomy:
// bad_credentials, two_factor, checkpoint, rate_limit, network, server_error
// or parsing.
func (c *Client) Login(ctx context.Context, handle, secret string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "instagram.login")
	defer span.End()
	span.SetAttributes(attribute.String("igfeed.identity", handle))

	err := c.login(ctx, handle, secret)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) login(ctx context.Context, handle, secret string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := c.api.R().SetContext(ctx).Get(LoginPagePath)
	if err != nil {
		return c.transportError(ctx, err, "login page")
	}
	if err := c.checkResponse(res); err != nil {
		return err
	}

	csrf := c.csrfToken(res.Body())
	if csrf == "" {
		return errs.New(errs.ErrorTypeParsing, res.StatusCode(), "csrf token not found on login page")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err = c.api.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"X-CSRFToken":      csrf,
			"X-IG-App-ID":      c.appID,
			"X-Requested-With": "XMLHttpRequest",
			"Referer":          c.base.String() + LoginPagePath,
		}).
		SetFormData(map[string]string{
			"username":      handle,
			"enc_password":  EncPassword(secret, c.now()),
			"queryParams":   "{}",
			"optIntoOneTap": "false",
		}).
		Post(LoginAjaxPath)
	if err != nil {
		return c.transportError(ctx, err, "login request")
	}

	return c.loginResult(handle, res)
}

func (c *Client) loginResult(handle string, res *resty.Response) error {
	status := res.StatusCode()

	var body loginResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		switch t := errs.TypeForStatus(status); t {
		case errs.ErrorTypeRateLimit, errs.ErrorTypeServerError:
			return errs.New(t, status, "login rejected")
		}
		return errs.New(errs.ErrorTypeParsing, status, fmt.Sprintf("unreadable login response: %v", err))
	}

	log := c.logger.WithFields(map[string]interface{}{"identity": handle, "status": status})
	switch {
	case status == http.StatusTooManyRequests || body.Spam || strings.Contains(body.Message, "Please wait"):
		log.Warn("Login throttled")
		return errs.New(errs.ErrorTypeRateLimit, status, messageOr(body.Message, "too many login attempts"))
	case body.TwoFactorRequired:
		return errs.New(errs.ErrorTypeTwoFactor, status, "two-factor authentication required")
	case body.CheckpointURL != "" || body.Message == "checkpoint_required":
		return errs.New(errs.ErrorTypeCheckpoint, status, "security checkpoint required")
	case status >= 500:
		return errs.New(errs.ErrorTypeServerError, status, messageOr(body.Message, "server error during login"))
	case body.Authenticated:
		log.Debug("Login accepted")
		return nil
	case !body.User:
		return errs.New(errs.ErrorTypeBadCredentials, status, "bad credentials: unknown user")
	default:
		return errs.New(errs.ErrorTypeBadCredentials, status, "bad credentials: wrong password")
	}
}

// ExportSession returns the cookies of the current session
func (c *Client) ExportSession() []models.Cookie {
	jarCookies := c.jar.Cookies(c.base)
	out := make([]models.Cookie, 0, len(jarCookies))
	for _, ck := range jarCookies {
		out = append(out, models.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: c.base.Hostname(),
			Path:   "/",
			Secure: c.base.Scheme == "https",
		})
	}
	return out
}

// ImportSession installs previously exported cookies
func (c *Client) ImportSession(cookies []models.Cookie) {
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		path := ck.Path
		if path == "" {
			path = "/"
		}
		httpCookies = append(httpCookies, &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Path:     path,
			Expires:  ck.Expires,
			Secure:   ck.Secure,
			HttpOnly: ck.HttpOnly,
		})
	}
	c.jar.SetCookies(c.base, httpCookies)
}

// ResolveProfile looks up handle and returns its newest timeline page along
// with the profile
func (c *Client) ResolveProfile(ctx context.Context, handle string) (*feed.Profile, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "instagram.resolve_profile")
	defer span.End()
	span.SetAttributes(attribute.String("igfeed.target", handle))

	var resp apiResponse
	if err := c.getJSON(ctx, ProfilePath, ProfileQuery(handle), &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, errs.New(errs.ErrorTypeLoginRequired, http.StatusUnauthorized, "login required to view profile")
	}
	u := resp.Data.User
	if u == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("profile %s not found", handle))
	}

	profile := &feed.Profile{
		ID:        u.ID,
		Handle:    messageOr(u.Username, handle),
		FullName:  u.FullName,
		Posts:     u.EdgeOwnerToTimelineMedia.Count,
		Followers: u.EdgeFollowedBy.Count,
		Private:   u.IsPrivate,
	}
	tl := u.EdgeOwnerToTimelineMedia
	if len(tl.Edges) > 0 || tl.PageInfo.EndCursor != "" {
		profile.FirstPage = tl.page()
	}

	c.logger.InfoWithFields("Resolved profile", map[string]interface{}{
		"target":    profile.Handle,
		"full_name": profile.FullName,
		"posts":     profile.Posts,
		"followers": profile.Followers,
		"private":   profile.Private,
	})
	return profile, nil
}

// FetchPage fetches the timeline page of userID after cursor
func (c *Client) FetchPage(ctx context.Context, userID, cursor string) (*feed.Page, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "instagram.fetch_page")
	defer span.End()

	query, err := MediaQuery(userID, cursor, c.pageSize)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := c.getJSON(ctx, MediaPath, query, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, errs.New(errs.ErrorTypeLoginRequired, http.StatusUnauthorized, "login required to view timeline")
	}
	if resp.Data.User == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("timeline of user %s not found", userID))
	}

	page := resp.Data.User.EdgeOwnerToTimelineMedia.page()
	span.SetAttributes(attribute.Int("igfeed.page_items", len(page.Items)))
	return page, nil
}

// Download streams the media at rawURL, retrying server errors
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		return c.download(ctx, rawURL)
	}, c.retry)
}

func (c *Client) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	res, err := c.media.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, c.transportError(ctx, err, "download")
	}

	status := res.StatusCode()
	if status >= 400 {
		res.RawBody().Close()
		c.logger.WarnWithFields("Media download failed", map[string]interface{}{
			"status": status,
			"url":    rawURL,
		})
		return nil, errs.New(errs.TypeForMediaStatus(status), status, "media download failed")
	}
	return res.RawBody(), nil
}

// getJSON performs a rate-limited GET against the API and decodes the body
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	res, err := c.api.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetHeaders(map[string]string{
			"X-IG-App-ID":      c.appID,
			"X-Requested-With": "XMLHttpRequest",
		}).
		Get(path)
	if err != nil {
		return c.transportError(ctx, err, path)
	}
	if err := c.checkResponse(res); err != nil {
		return err
	}

	if err := json.Unmarshal(res.Body(), target); err != nil {
		preview := res.String()
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("Failed to parse JSON response", map[string]interface{}{
			"path":         path,
			"status":       res.StatusCode(),
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.New(errs.ErrorTypeParsing, res.StatusCode(), fmt.Sprintf("failed to parse JSON: %v", err))
	}
	return nil
}

// checkResponse maps an HTTP response to the errors taxonomy. A redirect to
// the login page means the stored session is no longer accepted.
func (c *Client) checkResponse(res *resty.Response) error {
	status := res.StatusCode()
	if status < 400 && redirectedToLogin(res) {
		return errs.New(errs.ErrorTypeLoginRequired, status, "redirected to login")
	}
	if status < 400 {
		return nil
	}

	var body struct {
		Message      string `json:"message"`
		RequireLogin bool   `json:"require_login"`
	}
	_ = json.Unmarshal(res.Body(), &body)

	errType := errs.TypeForStatus(status)
	switch {
	case body.RequireLogin:
		errType = errs.ErrorTypeLoginRequired
	case status == http.StatusBadRequest && strings.Contains(body.Message, "Please wait"):
		errType = errs.ErrorTypeRateLimit
	}

	c.logger.WarnWithFields("API request failed", map[string]interface{}{
		"status": status,
		"type":   string(errType),
		"url":    res.Request.URL,
	})
	return errs.New(errType, status, messageOr(body.Message, http.StatusText(status)))
}

func (c *Client) transportError(ctx context.Context, err error, what string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.WithError(err).WithField("request", what).Warn("HTTP request failed")
	return errs.Wrap(errs.ErrorTypeNetwork, err, what)
}

func (c *Client) csrfToken(page []byte) string {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == csrfCookie && ck.Value != "" {
			return ck.Value
		}
	}
	if m := csrfInPage.FindSubmatch(page); m != nil {
		return string(m[1])
	}
	return ""
}

func redirectedToLogin(res *resty.Response) bool {
	if res.RawResponse == nil || res.RawResponse.Request == nil {
		return false
	}
	final := res.RawResponse.Request.URL.Path
	return strings.HasPrefix(final, LoginPagePath) && !strings.Contains(res.Request.URL, LoginPagePath)
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
