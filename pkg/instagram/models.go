package instagram

import (
	"time"

	"igfeed/pkg/feed"
)

// loginResponse is the body of LoginAjaxPath
type loginResponse struct {
	Authenticated     bool   `json:"authenticated"`
	User              bool   `json:"user"`
	UserID            string `json:"userId"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	CheckpointURL     string `json:"checkpoint_url"`
	Spam              bool   `json:"spam"`
	ErrorType         string `json:"error_type"`
}

// apiResponse is the envelope shared by the profile and GraphQL endpoints
type apiResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Message         string `json:"message"`
	Data            data   `json:"data"`
	Status          string `json:"status"`
}

type data struct {
	User *user `json:"user"`
}

type user struct {
	ID                       string   `json:"id"`
	Username                 string   `json:"username"`
	FullName                 string   `json:"full_name"`
	IsPrivate                bool     `json:"is_private"`
	EdgeFollowedBy           count    `json:"edge_followed_by"`
	EdgeOwnerToTimelineMedia timeline `json:"edge_owner_to_timeline_media"`
}

type count struct {
	Count int `json:"count"`
}

type timeline struct {
	Count    int      `json:"count"`
	PageInfo pageInfo `json:"page_info"`
	Edges    []edge   `json:"edges"`
}

type pageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

type edge struct {
	Node node `json:"node"`
}

// node is a single media item (photo, video or sidecar)
type node struct {
	ID                    string       `json:"id"`
	Typename              string       `json:"__typename"`
	Shortcode             string       `json:"shortcode"`
	DisplayURL            string       `json:"display_url"`
	IsVideo               bool         `json:"is_video"`
	TakenAtTimestamp      int64        `json:"taken_at_timestamp"`
	EdgeMediaToCaption    captionEdges `json:"edge_media_to_caption"`
	EdgeLikedBy           count        `json:"edge_liked_by"`
	EdgeMediaPreviewLike  count        `json:"edge_media_preview_like"`
	EdgeMediaToComment    count        `json:"edge_media_to_comment"`
	EdgeSidecarToChildren *children    `json:"edge_sidecar_to_children,omitempty"`
}

type captionEdges struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

type children struct {
	Edges []struct {
		Node struct {
			DisplayURL string `json:"display_url"`
			IsVideo    bool   `json:"is_video"`
		} `json:"node"`
	} `json:"edges"`
}

func (n node) caption() string {
	if len(n.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return n.EdgeMediaToCaption.Edges[0].Node.Text
}

func (n node) likes() int {
	if n.EdgeLikedBy.Count > 0 {
		return n.EdgeLikedBy.Count
	}
	return n.EdgeMediaPreviewLike.Count
}

// mediaURLs lists image URLs; sidecars contribute every image child
func (n node) mediaURLs() []string {
	if n.EdgeSidecarToChildren != nil && len(n.EdgeSidecarToChildren.Edges) > 0 {
		var urls []string
		for _, c := range n.EdgeSidecarToChildren.Edges {
			if !c.Node.IsVideo && c.Node.DisplayURL != "" {
				urls = append(urls, c.Node.DisplayURL)
			}
		}
		return urls
	}
	if n.DisplayURL == "" {
		return nil
	}
	return []string{n.DisplayURL}
}

func (n node) descriptor() feed.Descriptor {
	d := feed.Descriptor{
		ExternalID: n.Shortcode,
		Caption:    n.caption(),
		Likes:      n.likes(),
		Comments:   n.EdgeMediaToComment.Count,
		IsVideo:    n.IsVideo,
		MediaURLs:  n.mediaURLs(),
	}
	if n.TakenAtTimestamp > 0 {
		d.PostedAt = time.Unix(n.TakenAtTimestamp, 0).UTC()
	}
	return d
}

func (t timeline) page() *feed.Page {
	p := &feed.Page{
		Items:      make([]feed.Descriptor, 0, len(t.Edges)),
		NextCursor: t.PageInfo.EndCursor,
		HasNext:    t.PageInfo.HasNextPage,
	}
	for _, e := range t.Edges {
		p.Items = append(p.Items, e.Node.descriptor())
	}
	return p
}
