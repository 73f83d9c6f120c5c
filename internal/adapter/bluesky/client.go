package bluesky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/xrpc"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"
	"github.com/couchcryptid/fire-dispatch-etl/internal/observability"
)

const (
	createSessionMethod = "com.atproto.server.createSession"
	createRecordMethod  = "com.atproto.repo.createRecord"
	authorFeedMethod    = "app.bsky.feed.getAuthorFeed"
	postCollection      = "app.bsky.feed.post"
	linkFacetType       = "app.bsky.richtext.facet#link"

	// authorFeedLimit matches the timeline depth the status lookup has always used.
	authorFeedLimit = 10
)

var linkRe = regexp.MustCompile(`https?://\S+`)

// Client posts statuses to a Bluesky account over XRPC.
// It implements pipeline.StatusPoster.
type Client struct {
	xrpc     *xrpc.Client
	handle   string
	password string
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu  sync.Mutex
	did string
}

// NewClient creates a Bluesky client for the account identified by handle,
// authenticating with an app password on first use.
func NewClient(host, handle, password string, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		xrpc: &xrpc.Client{
			Client: &http.Client{Timeout: timeout},
			Host:   strings.TrimRight(host, "/"),
		},
		handle:   handle,
		password: password,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// LastStatus returns the text of the account's most recent original post, or
// domain.ErrNoPriorStatus if there is none.
func (c *Client) LastStatus(ctx context.Context) (string, error) {
	var out authorFeedOutput
	err := c.do(ctx, func(did string) error {
		params := map[string]interface{}{
			"actor":  did,
			"limit":  authorFeedLimit,
			"filter": "posts_no_replies",
		}
		return c.xrpc.Do(ctx, xrpc.Query, "", authorFeedMethod, params, nil, &out)
	})
	if err != nil {
		return "", fmt.Errorf("get author feed: %w", err)
	}

	for _, item := range out.Feed {
		if item.Reason != nil {
			continue
		}
		return item.Post.Record.Text, nil
	}
	return "", domain.ErrNoPriorStatus
}

// PostStatus publishes text as a new post. URLs in text are linked.
func (c *Client) PostStatus(ctx context.Context, text string) error {
	record := postRecord{
		Type:      postCollection,
		Text:      text,
		CreatedAt: c.clock.Now().UTC().Format(time.RFC3339),
		Langs:     []string{"en"},
		Facets:    linkFacets(text),
	}

	start := c.clock.Now()
	var out createRecordOutput
	err := c.do(ctx, func(did string) error {
		body := createRecordInput{Repo: did, Collection: postCollection, Record: record}
		return c.xrpc.Do(ctx, xrpc.Procedure, "application/json", createRecordMethod, nil, body, &out)
	})
	c.metrics.PostAPIDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}

	c.logger.Debug("status posted", "uri", out.URI)
	return nil
}

// do runs call with an authenticated session, logging in again once if the
// session has expired.
func (c *Client) do(ctx context.Context, call func(did string) error) error {
	did, err := c.session(ctx)
	if err != nil {
		return err
	}

	err = call(did)
	if !isExpiredSession(err) {
		return err
	}

	c.logger.Info("bluesky session expired, logging in again")
	c.resetSession()
	if did, err = c.session(ctx); err != nil {
		return err
	}
	return call(did)
}

func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.xrpc.Auth != nil {
		return c.did, nil
	}

	input := createSessionInput{Identifier: c.handle, Password: c.password}
	var out createSessionOutput
	if err := c.xrpc.Do(ctx, xrpc.Procedure, "application/json", createSessionMethod, nil, input, &out); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	c.xrpc.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	c.did = out.Did
	c.logger.Info("bluesky session created", "handle", out.Handle, "did", out.Did)
	return c.did, nil
}

func (c *Client) resetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.xrpc.Auth = nil
	c.did = ""
}

func isExpiredSession(err error) bool {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return false
	}
	if xe.StatusCode == http.StatusUnauthorized {
		return true
	}
	return xe.StatusCode == http.StatusBadRequest && strings.Contains(xe.Error(), "ExpiredToken")
}

// linkFacets marks every URL in text as a link so clients render it clickable.
// Facet offsets are byte offsets into the UTF-8 text.
func linkFacets(text string) []facet {
	var facets []facet
	for _, loc := range linkRe.FindAllStringIndex(text, -1) {
		facets = append(facets, facet{
			Index: byteSlice{ByteStart: loc[0], ByteEnd: loc[1]},
			Features: []facetFeature{
				{Type: linkFacetType, URI: text[loc[0]:loc[1]]},
			},
		})
	}
	return facets
}
