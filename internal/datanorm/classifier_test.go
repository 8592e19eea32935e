package datanorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier(t *testing.T) {
	c := NewClassifier(0)

	tests := []struct {
		name     string
		platform Platform
		headers  []string
		want     ContentKind
	}{
		{"portuguese reach", PlatformInstagram, []string{"Data", "Alcance"}, KindReach},
		{"english followers", PlatformInstagram, []string{"Date", "Followers"}, KindFollowers},
		{"profile visits", PlatformInstagram, []string{"Data", "Visitas ao perfil"}, KindProfileVisits},
		{"instagram posts", PlatformInstagram, []string{"Post ID", "Publish time", "Permalink", "Likes", "Comments", "Reach"}, KindPosts},
		{"instagram stories", PlatformInstagram, []string{"Story ID", "Publish time", "Reach", "Exits", "Taps forward"}, KindStories},
		{"youtube daily", PlatformYouTube, []string{"Date", "Views", "Watch time (hours)", "Subscribers"}, KindYouTubeDailyViews},
		{"youtube videos", PlatformYouTube, []string{"Content", "Video title", "Video publish time", "Duration", "Views"}, KindYouTubeVideos},
		{"newsletter daily", PlatformNewsletter, []string{"Date", "Sends", "Opens", "Clicks"}, KindNewsletterDaily},
		{"newsletter posts", PlatformNewsletter, []string{"Subject", "Sent at", "Opens", "Clicks"}, KindNewsletterPosts},
		{"newsletter subscribers", PlatformNewsletter, []string{"Date", "Total subscribers", "New subscribers"}, KindNewsletterSubscribers},
		{"meta ads", PlatformMetaAds, []string{"Campaign name", "Ad set name", "Ad name", "Amount spent (BRL)", "Impressions", "Reach"}, KindAds},
		{"meta ad sets", PlatformMetaAds, []string{"Campaign name", "Ad set name", "Amount spent (BRL)", "Impressions"}, KindAdSets},
		{"meta campaigns", PlatformMetaAds, []string{"Campaign name", "Amount spent (BRL)", "Impressions", "Reach"}, KindCampaigns},
		{"no platform uses every rule", "", []string{"date", "reach"}, KindReach},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.platform, tt.headers)
			assert.Equal(t, tt.want, got.Kind, "candidates: %+v", c.Candidates(tt.platform, tt.headers))
			assert.GreaterOrEqual(t, got.Confidence, DefaultConfidenceFloor)
		})
	}
}

func TestClassifierUnknown(t *testing.T) {
	c := NewClassifier(0)

	tests := []struct {
		name     string
		platform Platform
		headers  []string
	}{
		{"video title without id or duration", PlatformYouTube, []string{"video title", "views"}},
		{"unrelated columns", PlatformInstagram, []string{"foo", "bar"}},
		{"rule for another platform", PlatformNewsletter, []string{"data", "alcance"}},
		{"no headers", PlatformInstagram, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.platform, tt.headers)
			assert.Equal(t, KindUnknown, got.Kind)
			assert.Zero(t, got.Confidence)
		})
	}
}

func TestClassifierForbiddenTokens(t *testing.T) {
	c := NewClassifier(0)
	cands := c.Candidates(PlatformInstagram, []string{"Post ID", "Date", "Reach", "Likes"})

	var reach Candidate
	for _, cand := range cands {
		if cand.Kind == KindReach {
			reach = cand
		}
	}
	assert.Equal(t, 2, reach.Matched)
	assert.Contains(t, reach.ForbiddenHits, "id")
	assert.Less(t, reach.Score, DefaultConfidenceFloor)
	assert.NotEqual(t, KindReach, c.Classify(PlatformInstagram, []string{"Post ID", "Date", "Reach", "Likes"}).Kind)
}

func TestClassifierFloor(t *testing.T) {
	headers := []string{"Content", "Video title", "Views"}

	strict := NewClassifier(0.8)
	assert.Equal(t, KindUnknown, strict.Classify(PlatformYouTube, headers).Kind)

	loose := NewClassifier(0.7)
	got := loose.Classify(PlatformYouTube, headers)
	assert.Equal(t, KindYouTubeVideos, got.Kind)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
	assert.Equal(t, 0.7, loose.Floor())
}

func TestFoldHeader(t *testing.T) {
	tests := map[string]string{
		"Visualizações (total)":         "visualizacoes total",
		"  Amount spent (BRL) ":         "amount spent brl",
		"CTR (link click-through rate)": "ctr link click through rate",
		"Watch_time_hours":              "watch time hours",
		"ÇÃO":                           "cao",
	}
	for in, want := range tests {
		assert.Equal(t, want, FoldHeader(in), in)
	}
}

func TestMapColumns(t *testing.T) {
	schema, ok := SchemaFor(KindYouTubeVideos)
	if !ok {
		t.Fatal("no youtube videos schema")
	}
	m := MapColumns(schema, []string{"content", "video title", "average view duration", "duration", "views", "notes"})

	col, ok := m.Column("average_view_duration")
	assert.True(t, ok)
	assert.Equal(t, "average view duration", col)
	col, _ = m.Column("duration")
	assert.Equal(t, "duration", col)
	col, _ = m.Column(FieldNameExternalID)
	assert.Equal(t, "content", col)
	assert.Equal(t, []string{"notes"}, m.Unmapped)
}
