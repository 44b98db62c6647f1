package instagram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfeed/pkg/config"
	errs "igfeed/pkg/errors"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
	"igfeed/pkg/policy"
	"igfeed/pkg/ratelimit"
	"igfeed/pkg/retry"
)

var loginTime = time.Unix(1700000000, 0)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *logger.TestLogger) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Instagram.BaseURL = srv.URL
	cfg.Instagram.RequestTimeout = 5 * time.Second
	cfg.Download.Timeout = 5 * time.Second

	log := logger.NewTestLogger()
	client, err := NewClient(cfg, log,
		WithLimiter(ratelimit.Unlimited{}),
		WithRetry(&retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{},
			Sleeper:     retry.ContextSleeper{},
		}),
		WithClock(func() time.Time { return loginTime }),
	)
	require.NoError(t, err)
	return client, log
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loginPage(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok", Path: "/"})
	w.Write([]byte("<html>login</html>"))
}

func TestLoginSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(LoginPagePath, loginPage)
	mux.HandleFunc(LoginAjaxPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tok", r.Header.Get("X-CSRFToken"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "acc1", r.PostForm.Get("username"))
		assert.Equal(t, "#PWD_INSTAGRAM_BROWSER:0:1700000000:pw1", r.PostForm.Get("enc_password"))

		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-1", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": true, "user": true, "status": "ok"})
	})

	client, _ := newTestClient(t, mux)
	require.NoError(t, client.Login(context.Background(), "acc1", "pw1"))

	cookies := map[string]string{}
	for _, c := range client.ExportSession() {
		cookies[c.Name] = c.Value
	}
	assert.Equal(t, "sess-1", cookies["sessionid"])
	assert.Equal(t, "tok", cookies["csrftoken"])
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
		want   errs.ErrorType
	}{
		{"wrong password", 200, map[string]interface{}{"authenticated": false, "user": true}, errs.ErrorTypeBadCredentials},
		{"unknown user", 200, map[string]interface{}{"authenticated": false, "user": false}, errs.ErrorTypeBadCredentials},
		{"two factor", 400, map[string]interface{}{"two_factor_required": true, "status": "fail"}, errs.ErrorTypeTwoFactor},
		{"checkpoint", 400, map[string]interface{}{"message": "checkpoint_required", "checkpoint_url": "/challenge/1/"}, errs.ErrorTypeCheckpoint},
		{"please wait", 400, map[string]interface{}{"message": "Please wait a few minutes before you try again.", "status": "fail"}, errs.ErrorTypeRateLimit},
		{"too many requests", 429, map[string]interface{}{"status": "fail"}, errs.ErrorTypeRateLimit},
		{"spam", 400, map[string]interface{}{"spam": true, "status": "fail"}, errs.ErrorTypeRateLimit},
		{"server error", 500, "oops", errs.ErrorTypeServerError},
		{"html body", 200, "<html>", errs.ErrorTypeParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc(LoginPagePath, loginPage)
			mux.HandleFunc(LoginAjaxPath, func(w http.ResponseWriter, r *http.Request) {
				if s, ok := tt.body.(string); ok {
					w.WriteHeader(tt.status)
					w.Write([]byte(s))
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			client, _ := newTestClient(t, mux)
			err := client.Login(context.Background(), "acc1", "pw1")
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestLoginCSRFFromPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(LoginPagePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>window._sharedData = {"config":{"csrf_token":"fromPage"}};</script>`))
	})
	mux.HandleFunc(LoginAjaxPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fromPage", r.Header.Get("X-CSRFToken"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": true, "user": true})
	})

	client, _ := newTestClient(t, mux)
	assert.NoError(t, client.Login(context.Background(), "acc1", "pw1"))
}

func TestLoginWithoutCSRF(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(LoginPagePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})

	client, _ := newTestClient(t, mux)
	err := client.Login(context.Background(), "acc1", "pw1")
	assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
}

func TestLoginNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := config.DefaultConfig()
	cfg.Instagram.BaseURL = srv.URL
	srv.Close()

	client, err := NewClient(cfg, logger.NewNopLogger(), WithLimiter(ratelimit.Unlimited{}))
	require.NoError(t, err)

	err = client.Login(context.Background(), "acc1", "pw1")
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

const profileBody = `{
  "data": {"user": {
    "id": "4242",
    "username": "alice",
    "full_name": "Alice A",
    "is_private": false,
    "edge_followed_by": {"count": 900},
    "edge_owner_to_timeline_media": {
      "count": 40,
      "page_info": {"has_next_page": true, "end_cursor": "c1"},
      "edges": [
        {"node": {"id": "1", "shortcode": "p1", "display_url": "https://cdn.example/p1.jpg", "is_video": false,
          "taken_at_timestamp": 1709285400,
          "edge_media_to_caption": {"edges": [{"node": {"text": "first post"}}]},
          "edge_liked_by": {"count": 10}, "edge_media_to_comment": {"count": 2}}},
        {"node": {"id": "2", "__typename": "GraphSidecar", "shortcode": "p2", "display_url": "https://cdn.example/p2.jpg",
          "edge_media_preview_like": {"count": 7},
          "edge_sidecar_to_children": {"edges": [
            {"node": {"display_url": "https://cdn.example/p2a.jpg", "is_video": false}},
            {"node": {"display_url": "https://cdn.example/p2b.mp4", "is_video": true}},
            {"node": {"display_url": "https://cdn.example/p2c.jpg", "is_video": false}}
          ]}}}
      ]
    }
  }},
  "status": "ok"
}`

func TestResolveProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(ProfilePath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("username"))
		assert.NotEmpty(t, r.Header.Get("X-IG-App-ID"))
		c, err := r.Cookie("sessionid")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", c.Value)
		w.Write([]byte(profileBody))
	})

	client, log := newTestClient(t, mux)
	client.ImportSession([]models.Cookie{{Name: "sessionid", Value: "sess-1"}})

	profile, err := client.ResolveProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "4242", profile.ID)
	assert.Equal(t, "Alice A", profile.FullName)
	assert.Equal(t, 40, profile.Posts)
	assert.Equal(t, 900, profile.Followers)
	assert.True(t, log.HasMessage("Resolved profile"))

	require.NotNil(t, profile.FirstPage)
	page := profile.FirstPage
	assert.True(t, page.HasNext)
	assert.Equal(t, "c1", page.NextCursor)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "p1", first.ExternalID)
	assert.Equal(t, "first post", first.Caption)
	assert.Equal(t, 10, first.Likes)
	assert.Equal(t, 2, first.Comments)
	assert.Equal(t, time.Unix(1709285400, 0).UTC(), first.PostedAt)
	assert.Equal(t, []string{"https://cdn.example/p1.jpg"}, first.MediaURLs)

	sidecar := page.Items[1]
	assert.Equal(t, 7, sidecar.Likes)
	assert.True(t, sidecar.PostedAt.IsZero())
	assert.Equal(t, []string{"https://cdn.example/p2a.jpg", "https://cdn.example/p2c.jpg"}, sidecar.MediaURLs)
}

func TestResolveProfileErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    errs.ErrorType
	}{
		{
			name: "missing user",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"user": nil}, "status": "ok"})
			},
			want: errs.ErrorTypeNotFound,
		},
		{
			name:    "404",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    errs.ErrorTypeNotFound,
		},
		{
			name:    "401",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			want:    errs.ErrorTypeLoginRequired,
		},
		{
			name: "requires to login",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"requires_to_login": true})
			},
			want: errs.ErrorTypeLoginRequired,
		},
		{
			name: "require_login body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "login_required", "require_login": true})
			},
			want: errs.ErrorTypeLoginRequired,
		},
		{
			name: "redirect to login",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, LoginPagePath+"?next=/alice/", http.StatusFound)
			},
			want: errs.ErrorTypeLoginRequired,
		},
		{
			name:    "throttled",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    errs.ErrorTypeRateLimit,
		},
		{
			name:    "garbage",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) },
			want:    errs.ErrorTypeParsing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc(ProfilePath, tt.handler)
			mux.HandleFunc(LoginPagePath, loginPage)

			client, _ := newTestClient(t, mux)
			_, err := client.ResolveProfile(context.Background(), "alice")
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestFetchPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(MediaPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, MediaQueryHash, r.URL.Query().Get("query_hash"))
		var vars map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars))
		assert.Equal(t, "4242", vars["id"])
		assert.Equal(t, "c1", vars["after"])

		w.Write([]byte(`{"data":{"user":{"edge_owner_to_timeline_media":{
			"count": 40,
			"page_info": {"has_next_page": false, "end_cursor": ""},
			"edges": [{"node": {"shortcode": "p3", "display_url": "https://cdn.example/p3.jpg", "is_video": true}}]
		}}},"status":"ok"}`))
	})

	client, _ := newTestClient(t, mux)
	page, err := client.FetchPage(context.Background(), "4242", "c1")
	require.NoError(t, err)
	assert.False(t, page.HasNext)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p3", page.Items[0].ExternalID)
	assert.True(t, page.Items[0].IsVideo)
}

func TestFetchPageThrottled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(MediaPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"message": "Please wait a few minutes before you try again.",
			"status":  "fail",
		})
	})

	client, log := newTestClient(t, mux)
	_, err := client.FetchPage(context.Background(), "4242", "")
	assert.Equal(t, errs.ErrorTypeRateLimit, errs.TypeOf(err))
	assert.True(t, log.HasMessage("API request failed"))
}

func TestFetchPageCancelled(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, "4242", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownload(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/media/flaky.jpg", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("jpeg-bytes"))
	})

	client, _ := newTestClient(t, mux)
	srvURL := client.base.String()

	body, err := client.Download(context.Background(), srvURL+"/media/flaky.jpg")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownloadFailures(t *testing.T) {
	var missing, broken atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/media/missing.jpg", func(w http.ResponseWriter, r *http.Request) {
		missing.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/media/broken.jpg", func(w http.ResponseWriter, r *http.Request) {
		broken.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, _ := newTestClient(t, mux)
	srvURL := client.base.String()

	_, err := client.Download(context.Background(), srvURL+"/media/missing.jpg")
	assert.Equal(t, errs.ErrorTypeNotFound, errs.TypeOf(err))
	assert.Equal(t, int32(1), missing.Load())

	_, err = client.Download(context.Background(), srvURL+"/media/broken.jpg")
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
	assert.Equal(t, int32(3), broken.Load())
}

func TestDownloadForbiddenIsItemLevel(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/media/expired.jpg", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("URL signature expired"))
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Download(context.Background(), client.base.String()+"/media/expired.jpg")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNotFound, errs.TypeOf(err))
	assert.Equal(t, int32(1), calls.Load())

	kind := policy.Classify(policy.StageFetch, err)
	assert.Equal(t, policy.ItemNotFound, kind)
	assert.Equal(t, policy.Continue, policy.Decide(policy.StageFetch, kind).Action)
}
