package instagram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Instagram web origin
	DefaultBaseURL = "https://www.instagram.com"

	// LoginPagePath serves the csrftoken cookie needed by the login call
	LoginPagePath = "/accounts/login/"

	// LoginAjaxPath accepts the credential submission
	LoginAjaxPath = "/api/v1/web/accounts/login/ajax/"

	// ProfilePath returns profile info and the newest timeline page
	ProfilePath = "/api/v1/users/web_profile_info/"

	// MediaPath is the GraphQL endpoint used for timeline pagination
	MediaPath = "/graphql/query/"

	// MediaQueryHash selects the owner timeline query
	MediaQueryHash = "e769aa130647d2354c40ea6a439bfc08"

	// DefaultMediaLimit is the default number of media items to fetch per request
	DefaultMediaLimit = 12

	// MaxMediaLimit is the maximum number of media items that can be fetched per request
	MaxMediaLimit = 50
)

// ProfileQuery builds the query string for ProfilePath
func ProfileQuery(username string) url.Values {
	params := url.Values{}
	params.Set("username", username)
	return params
}

// MediaQuery builds the query string for one timeline page after cursor
func MediaQuery(userID, after string, limit int) (url.Values, error) {
	if limit <= 0 {
		limit = DefaultMediaLimit
	} else if limit > MaxMediaLimit {
		limit = MaxMediaLimit
	}

	variables := map[string]interface{}{
		"id":    userID,
		"first": limit,
	}
	if after != "" {
		variables["after"] = after
	}
	encoded, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("encode media variables: %w", err)
	}

	params := url.Values{}
	params.Set("query_hash", MediaQueryHash)
	params.Set("variables", string(encoded))
	return params, nil
}

// EncPassword formats a password the way the web login form submits it
func EncPassword(password string, now time.Time) string {
	return fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", now.Unix(), password)
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// letters, numbers, periods and underscores only
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
