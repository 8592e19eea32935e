package datanorm

import (
	"sort"
)

// DefaultConfidenceFloor is the minimum rule score accepted as a match.
const DefaultConfidenceFloor = 0.75

const forbiddenPenalty = 0.5

// Rule is a header signature for one content kind. Each slot lists
// canonical fields of the kind's schema; a slot matches when any header
// matches any alias of those fields. Forbidden tokens are whole words
// whose presence argues against the kind.
type Rule struct {
	Kind      ContentKind
	Platforms []Platform
	Slots     [][]string
	Forbidden []string
}

func (r Rule) appliesTo(p Platform) bool {
	if p == "" {
		return true
	}
	for _, rp := range r.Platforms {
		if rp == p {
			return true
		}
	}
	return false
}

var (
	social       = []Platform{PlatformInstagram, PlatformTwitter, PlatformLinkedIn}
	entityTokens = []string{"id", "permalink", "title", "titulo", "caption", "legenda", "campaign", "campanha", "subject", "assunto"}
)

// rules is ordered most specific first. Ties in score are broken by slot
// count and then by this order, so entity files beat the daily kinds that
// share a metric column with them.
var rules = []Rule{
	{Kind: KindAds, Platforms: []Platform{PlatformMetaAds},
		Slots: [][]string{{FieldNameExternalID, "name"}, {"spend"}, {"impressions", "reach"}}},
	{Kind: KindAdSets, Platforms: []Platform{PlatformMetaAds},
		Slots:     [][]string{{FieldNameExternalID, "name"}, {"spend"}, {"impressions", "reach"}},
		Forbidden: []string{"ad name", "nome do anuncio", "ad id", "id do anuncio"}},
	{Kind: KindCampaigns, Platforms: []Platform{PlatformMetaAds},
		Slots:     [][]string{{FieldNameExternalID, "name"}, {"spend"}, {"impressions", "reach"}},
		Forbidden: []string{"ad set", "conjunto de anuncios", "ad name", "nome do anuncio"}},

	{Kind: KindYouTubeVideos, Platforms: []Platform{PlatformYouTube},
		Slots: [][]string{{FieldNameExternalID}, {"title"}, {"duration", "watch_time_hours", "average_view_duration"}, {"views"}}},
	{Kind: KindYouTubeDailyViews, Platforms: []Platform{PlatformYouTube},
		Slots:     [][]string{{FieldNameDate}, {"views"}},
		Forbidden: []string{"video", "title", "titulo", "content", "conteudo", "duration", "duracao", "id"}},

	{Kind: KindStories, Platforms: []Platform{PlatformInstagram},
		Slots: [][]string{{FieldNameExternalID, "permalink"}, {"published_at"}, {"exits", "taps_forward", "taps_back", "navigation", "sticker_taps"}}},
	{Kind: KindPosts, Platforms: social,
		Slots:     [][]string{{FieldNameExternalID, "permalink"}, {"published_at"}, {"likes", "comments", "shares", "saves"}},
		Forbidden: []string{"story", "stories", "exits", "saidas"}},

	{Kind: KindNewsletterPosts, Platforms: []Platform{PlatformNewsletter},
		Slots: [][]string{{"title"}, {"sent_at"}, {"opens", "open_rate"}}},
	{Kind: KindNewsletterDaily, Platforms: []Platform{PlatformNewsletter},
		Slots:     [][]string{{FieldNameDate}, {"opens"}, {"clicks", "sends", "delivered"}},
		Forbidden: []string{"subject", "assunto", "title", "titulo", "id"}},
	{Kind: KindNewsletterSubscribers, Platforms: []Platform{PlatformNewsletter},
		Slots:     [][]string{{FieldNameDate}, {"subscribers", "new_subscribers"}},
		Forbidden: []string{"opens", "aberturas", "subject", "assunto", "id"}},

	{Kind: KindReach, Platforms: social, Slots: dailySlots("reach"), Forbidden: entityTokens},
	{Kind: KindFollowers, Platforms: append(social, PlatformYouTube), Slots: dailySlots("followers"), Forbidden: entityTokens},
	{Kind: KindViews, Platforms: social, Slots: dailySlots("views"), Forbidden: entityTokens},
	{Kind: KindInteractions, Platforms: social, Slots: dailySlots("interactions"), Forbidden: entityTokens},
	{Kind: KindProfileVisits, Platforms: social, Slots: dailySlots("profile_visits"), Forbidden: entityTokens},
	{Kind: KindLinkClicks, Platforms: social, Slots: dailySlots("link_clicks"), Forbidden: entityTokens},
}

func dailySlots(value string) [][]string {
	return [][]string{{FieldNameDate}, {value}}
}

// Classification is the classifier's verdict for one file.
type Classification struct {
	Kind       ContentKind `json:"kind"`
	Confidence float64     `json:"confidence"`
}

// Candidate is the score of one rule against a header set.
type Candidate struct {
	Kind          ContentKind `json:"kind"`
	Score         float64     `json:"score"`
	Matched       int         `json:"matched"`
	Slots         int         `json:"slots"`
	ForbiddenHits []string    `json:"forbidden_hits,omitempty"`
}

// Classifier assigns a content kind from headers. It holds only read-only
// tables and is safe for concurrent use.
type Classifier struct {
	floor float64
	rules []compiledRule
}

type compiledRule struct {
	Rule
	slotAliases [][]string
}

// NewClassifier builds a classifier. A floor <= 0 uses DefaultConfidenceFloor.
func NewClassifier(floor float64) *Classifier {
	if floor <= 0 {
		floor = DefaultConfidenceFloor
	}
	c := &Classifier{floor: floor}
	for _, r := range rules {
		schema := schemas[r.Kind]
		cr := compiledRule{Rule: r}
		for _, slot := range r.Slots {
			var aliases []string
			for _, name := range slot {
				if f, ok := schema.Field(name); ok {
					aliases = append(aliases, f.Aliases...)
				}
			}
			cr.slotAliases = append(cr.slotAliases, aliases)
		}
		c.rules = append(c.rules, cr)
	}
	return c
}

// Floor returns the configured confidence floor.
func (c *Classifier) Floor() float64 { return c.floor }

// Classify returns the best-scoring kind for platform, or KindUnknown with
// confidence 0 when no rule clears the floor. It never fails.
func (c *Classifier) Classify(platform Platform, headers []string) Classification {
	cands := c.Candidates(platform, headers)
	if len(cands) == 0 || cands[0].Score < c.floor {
		return Classification{Kind: KindUnknown}
	}
	return Classification{Kind: cands[0].Kind, Confidence: cands[0].Score}
}

// Candidates scores every rule for platform, best first.
func (c *Classifier) Candidates(platform Platform, headers []string) []Candidate {
	folded := make([]string, 0, len(headers))
	for _, h := range headers {
		if f := FoldHeader(h); f != "" {
			folded = append(folded, f)
		}
	}

	type ranked struct {
		Candidate
		order int
	}
	var out []ranked
	for i, r := range c.rules {
		if !r.appliesTo(platform) {
			continue
		}
		cand := Candidate{Kind: r.Kind, Slots: len(r.slotAliases)}
		for _, aliases := range r.slotAliases {
			if anyHeaderMatches(folded, aliases) {
				cand.Matched++
			}
		}
		for _, tok := range r.Forbidden {
			for _, h := range folded {
				if containsWords(h, tok) {
					cand.ForbiddenHits = append(cand.ForbiddenHits, tok)
					break
				}
			}
		}
		if cand.Slots > 0 {
			cand.Score = float64(cand.Matched)/float64(cand.Slots) - forbiddenPenalty*float64(len(cand.ForbiddenHits))
		}
		out = append(out, ranked{Candidate: cand, order: i})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Slots != b.Slots {
			return a.Slots > b.Slots
		}
		return a.order < b.order
	})
	cands := make([]Candidate, len(out))
	for i, r := range out {
		cands[i] = r.Candidate
	}
	return cands
}

func anyHeaderMatches(headers, aliases []string) bool {
	for _, h := range headers {
		for _, a := range aliases {
			if matchesAlias(h, a, false) {
				return true
			}
		}
	}
	return false
}
