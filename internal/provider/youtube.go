package provider

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/pkg/youtube"
)

// YouTube supplies secondary channel analytics.
type YouTube struct {
	client youtube.Client
}

// NewYouTube adapts a YouTube client.
func NewYouTube(c youtube.Client) *YouTube {
	return &YouTube{client: c}
}

// Name implements ChannelAnalytics.
func (y *YouTube) Name() string { return "youtube" }

// GetSecondaryChannelAnalytics resolves ref to a channel and reads its
// statistics and latest upload. ref may be a channel URL, a handle or a
// plain artist name.
func (y *YouTube) GetSecondaryChannelAnalytics(ctx context.Context, ref string) (*model.AnalyticsRecord, bool, error) {
	ch, err := y.resolve(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	if ch == nil {
		return nil, false, nil
	}

	out := &model.AnalyticsRecord{
		ChannelID:  ch.ID,
		Title:      ch.Title,
		URL:        ch.URL(),
		Views:      ch.Views,
		VideoCount: ch.VideoCount,
	}
	if !ch.HiddenSubscribers {
		out.Subscribers = ch.Subscribers
	}

	last, err := y.client.LatestUpload(ctx, ch.UploadsPlaylistID)
	if err != nil {
		zap.L().Warn("youtube: latest upload lookup failed", zap.String("channel", ch.ID), zap.Error(err))
	} else {
		out.LastUploadAt = last
	}
	return out, true, nil
}

// ChannelRef is a parsed channel reference. At most one field is set.
type ChannelRef struct {
	ID     string
	Handle string
	Query  string
}

// ParseChannelRef classifies a channel URL, handle or name.
func ParseChannelRef(ref string) ChannelRef {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "@") {
		return ChannelRef{Handle: ref}
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" || ClassifyLink(ref) != model.PlatformYouTube {
		return ChannelRef{Query: ref}
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "channel":
		return ChannelRef{ID: parts[1]}
	case len(parts) >= 1 && strings.HasPrefix(parts[0], "@"):
		return ChannelRef{Handle: parts[0]}
	case len(parts) >= 2 && (parts[0] == "c" || parts[0] == "user"):
		return ChannelRef{Query: parts[1]}
	case len(parts) == 1 && parts[0] != "" && parts[0] != "watch":
		return ChannelRef{Query: parts[0]}
	}
	return ChannelRef{}
}

func (y *YouTube) resolve(ctx context.Context, ref string) (*youtube.Channel, error) {
	cr := ParseChannelRef(ref)
	switch {
	case cr.ID != "":
		return y.client.ChannelByID(ctx, cr.ID)
	case cr.Handle != "":
		return y.client.ChannelByHandle(ctx, cr.Handle)
	case cr.Query != "":
		return y.client.SearchChannel(ctx, cr.Query)
	}
	return nil, nil
}
