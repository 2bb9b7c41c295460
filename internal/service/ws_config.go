package service

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/psds-microservice/homecam-relay/internal/model"
	"github.com/psds-microservice/homecam-relay/internal/token"
)

// WSConfig holds the public media relay URL and signs admission for it.
type WSConfig struct {
	BaseURL string
	Tokens  *token.HMACService
}

// MediaURL returns a signed relay URL, e.g. ws://host:port?type=viewer&cameraId=..&viewerId=..&ts=..&token=..
func (c *WSConfig) MediaURL(p token.Params) (*model.MediaURLResponse, error) {
	issued, err := c.Tokens.Issue(p)
	if err != nil {
		return nil, err
	}
	base := "ws://localhost:8091"
	if c.BaseURL != "" {
		base = strings.TrimRight(c.BaseURL, "/")
	}
	q := make([]string, 0, 5)
	q = append(q, "type="+url.QueryEscape(string(p.Role)), "cameraId="+url.QueryEscape(p.CameraID))
	if p.ViewerID != "" {
		q = append(q, "viewerId="+url.QueryEscape(p.ViewerID))
	}
	q = append(q, "ts="+strconv.FormatInt(issued.TS, 10), "token="+issued.Token)
	return &model.MediaURLResponse{
		URL:         base + "?" + strings.Join(q, "&"),
		TS:          issued.TS,
		Token:       issued.Token,
		ExpiresInMs: c.Tokens.MaxAge().Milliseconds(),
	}, nil
}

// ClaimFromQuery extracts the admission claim a socket presents. Missing fields yield a
// claim that fails verification.
func ClaimFromQuery(q url.Values) token.Claim {
	ts, _ := strconv.ParseInt(q.Get("ts"), 10, 64)
	return token.Claim{
		Params: token.Params{
			Role:     token.Role(q.Get("type")),
			CameraID: q.Get("cameraId"),
			ViewerID: q.Get("viewerId"),
		},
		TS:    ts,
		Token: q.Get("token"),
	}
}
