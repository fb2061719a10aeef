package instagram

import (
	"strconv"
	"time"
)

// InstagramResponse represents the top-level response from Instagram API
type InstagramResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Data            Data   `json:"data"`
	Status          string `json:"status"`
}

// Data wraps the user information in the response
type Data struct {
	User User `json:"user"`
}

// User represents an Instagram user profile
type User struct {
	ID                       string                   `json:"id"`
	Username                 string                   `json:"username"`
	EdgeOwnerToTimelineMedia EdgeOwnerToTimelineMedia `json:"edge_owner_to_timeline_media"`
}

// EdgeOwnerToTimelineMedia is one page of a user's timeline
type EdgeOwnerToTimelineMedia struct {
	Count    int      `json:"count"`
	PageInfo PageInfo `json:"page_info"`
	Edges    []Edge   `json:"edges"`
}

// PageInfo contains pagination information
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// Edge wraps a single media node
type Edge struct {
	Node Node `json:"node"`
}

// Node is a timeline post, or a child of a sidecar post
type Node struct {
	ID               string `json:"id"`
	Typename         string `json:"__typename"`
	Shortcode        string `json:"shortcode"`
	DisplayURL       string `json:"display_url"`
	IsVideo          bool   `json:"is_video"`
	VideoViewCount   int64  `json:"video_view_count"`
	TakenAtTimestamp int64  `json:"taken_at_timestamp"`

	EdgeMediaToCaption    CaptionEdges `json:"edge_media_to_caption"`
	EdgeLikedBy           Counter      `json:"edge_liked_by"`
	EdgeMediaPreviewLike  Counter      `json:"edge_media_preview_like"`
	EdgeMediaToComment    Counter      `json:"edge_media_to_comment"`
	EdgeSidecarToChildren *ChildEdges  `json:"edge_sidecar_to_children,omitempty"`
}

// CaptionEdges holds a post's caption
type CaptionEdges struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

// Counter is an edge that only carries a count
type Counter struct {
	Count int64 `json:"count"`
}

// ChildEdges lists the items of a sidecar (album) post
type ChildEdges struct {
	Edges []Edge `json:"edges"`
}

// Image is one picture of a post and the file name it is stored under
type Image struct {
	URL  string
	Name string
}

// Caption returns the first caption text, or ""
func (n *Node) Caption() string {
	if len(n.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return n.EdgeMediaToCaption.Edges[0].Node.Text
}

// Likes prefers the full like count over the preview count
func (n *Node) Likes() int64 {
	if n.EdgeLikedBy.Count > 0 {
		return n.EdgeLikedBy.Count
	}
	return n.EdgeMediaPreviewLike.Count
}

// Comments returns the comment count
func (n *Node) Comments() int64 {
	return n.EdgeMediaToComment.Count
}

// TakenAt returns the post time in UTC, or the zero time when unknown
func (n *Node) TakenAt() time.Time {
	if n.TakenAtTimestamp == 0 {
		return time.Time{}
	}
	return time.Unix(n.TakenAtTimestamp, 0).UTC()
}

// IsSidecar reports whether the post is an album
func (n *Node) IsSidecar() bool {
	return n.EdgeSidecarToChildren != nil && len(n.EdgeSidecarToChildren.Edges) > 0
}

// Images lists the post's pictures in album order. Album children are named
// <shortcode>_<index>.jpg by their position among all children, single posts
// <shortcode>.jpg; videos are skipped.
func (n *Node) Images() []Image {
	if !n.IsSidecar() {
		if n.IsVideo || n.DisplayURL == "" {
			return nil
		}
		return []Image{{URL: n.DisplayURL, Name: n.Shortcode + ".jpg"}}
	}
	var out []Image
	for i, child := range n.EdgeSidecarToChildren.Edges {
		if child.Node.IsVideo || child.Node.DisplayURL == "" {
			continue
		}
		out = append(out, Image{
			URL:  child.Node.DisplayURL,
			Name: n.Shortcode + "_" + strconv.Itoa(i) + ".jpg",
		})
	}
	return out
}
