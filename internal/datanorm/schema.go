package datanorm

// FieldType is the canonical type of a schema field.
type FieldType string

const (
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldPercent  FieldType = "percent"
	FieldDate     FieldType = "date"
	FieldDuration FieldType = "duration"
	FieldString   FieldType = "string"
)

// FieldSpec maps a canonical field to the header aliases observed in
// platform exports. Aliases are written in folded form (see FoldHeader).
type FieldSpec struct {
	Name    string
	Type    FieldType
	Aliases []string
	Signed  bool // numeric field allowed to go negative
}

func (f FieldSpec) numeric() bool {
	switch f.Type {
	case FieldInt, FieldFloat, FieldPercent, FieldDuration:
		return true
	}
	return false
}

// Derivation computes a rate field from two source fields as
// numerator/denominator*Scale when the source file did not carry it.
type Derivation struct {
	Field       string
	Numerator   []string
	Denominator []string
	Scale       float64
	Type        FieldType
}

// Schema describes one content kind: where its records are stored, how
// they are keyed and which columns it understands.
type Schema struct {
	Kind        ContentKind
	Table       string
	Daily       bool
	Fields      []FieldSpec
	Required    []string
	KeyFallback []string
	RangeStart  string
	RangeEnd    string
	Derived     []Derivation
}

// Field returns the FieldSpec for a canonical field name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// KeyField is "date" for daily kinds and "external_id" for entity kinds.
func (s *Schema) KeyField() string {
	if s.Daily {
		return FieldNameDate
	}
	return FieldNameExternalID
}

// SchemaFor returns the schema registered for kind.
func SchemaFor(kind ContentKind) (*Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

// Kinds lists every kind with a schema, in classifier rule order.
func Kinds() []ContentKind {
	out := make([]ContentKind, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Kind)
	}
	return out
}

// DailyTable is the time-series table shared by all daily kinds.
const DailyTable = "daily_metrics"

const (
	FieldNameDate       = "date"
	FieldNameExternalID = "external_id"
)

// =============================================================================
// ALIAS SETS (English + Portuguese)
// =============================================================================

var (
	dateField   = FieldSpec{Name: FieldNameDate, Type: FieldDate, Aliases: []string{"date", "data", "day", "dia", "date time", "data hora", "report date", "data do relatorio"}}
	reachField  = FieldSpec{Name: "reach", Type: FieldInt, Aliases: []string{"reach", "alcance", "accounts reached", "contas alcancadas", "unique reach"}}
	impressions = FieldSpec{Name: "impressions", Type: FieldInt, Aliases: []string{"impressions", "impressoes", "impressions total"}}
	likesField  = FieldSpec{Name: "likes", Type: FieldInt, Aliases: []string{"likes", "curtidas", "reactions", "reacoes", "favorites"}}
	commentsF   = FieldSpec{Name: "comments", Type: FieldInt, Aliases: []string{"comments", "comentarios", "comments added"}}
	sharesField = FieldSpec{Name: "shares", Type: FieldInt, Aliases: []string{"shares", "compartilhamentos", "retweets", "reposts"}}
	savesField  = FieldSpec{Name: "saves", Type: FieldInt, Aliases: []string{"saves", "salvamentos", "saved"}}
	viewsField  = FieldSpec{Name: "views", Type: FieldInt, Aliases: []string{"views", "visualizacoes", "video views", "plays", "reproducoes"}}
	watchHours  = FieldSpec{Name: "watch_time_hours", Type: FieldFloat, Aliases: []string{"watch time hours", "watch time", "tempo de exibicao horas", "tempo de exibicao"}}
	subsGained  = FieldSpec{Name: "subscribers", Type: FieldInt, Signed: true, Aliases: []string{"subscribers", "inscritos", "subscribers gained", "inscricoes"}}
	publishedAt = FieldSpec{Name: "published_at", Type: FieldDate, Aliases: []string{"publish time", "published at", "publish date", "published", "data de publicacao", "horario de publicacao", "posted at", "created at", "date", "data"}}
	spendField  = FieldSpec{Name: "spend", Type: FieldFloat, Aliases: []string{"amount spent", "amount spent brl", "amount spent usd", "valor usado", "valor usado brl", "spend", "gasto", "investimento"}}
	adClicks    = FieldSpec{Name: "clicks", Type: FieldInt, Aliases: []string{"link clicks", "cliques no link", "clicks all", "clicks", "cliques"}}
	ctrField    = FieldSpec{Name: "ctr", Type: FieldPercent, Aliases: []string{"ctr", "ctr all", "ctr link click through rate", "ctr taxa de cliques no link", "click through rate"}}
	cpcField    = FieldSpec{Name: "cpc", Type: FieldFloat, Aliases: []string{"cpc", "cpc cost per link click", "cpc custo por clique no link", "cost per click"}}
	cpmField    = FieldSpec{Name: "cpm", Type: FieldFloat, Aliases: []string{"cpm", "cpm cost per 1 000 impressions", "cpm custo por 1 000 impressoes"}}
	resultsF    = FieldSpec{Name: "results", Type: FieldInt, Aliases: []string{"results", "resultados"}}
	statusField = FieldSpec{Name: "status", Type: FieldString, Aliases: []string{"delivery", "veiculacao", "status"}}
	startDate   = FieldSpec{Name: "start_date", Type: FieldDate, Aliases: []string{"reporting starts", "inicio dos relatorios", "starts", "inicio", "start date"}}
	endDate     = FieldSpec{Name: "end_date", Type: FieldDate, Aliases: []string{"reporting ends", "termino dos relatorios", "ends", "termino", "end date"}}
	opensField  = FieldSpec{Name: "opens", Type: FieldInt, Aliases: []string{"opens", "unique opens", "aberturas", "aberturas unicas"}}
	nlClicks    = FieldSpec{Name: "clicks", Type: FieldInt, Aliases: []string{"clicks", "unique clicks", "cliques", "cliques unicos"}}
	sendsField  = FieldSpec{Name: "sends", Type: FieldInt, Aliases: []string{"sends", "sent", "emails sent", "recipients", "envios", "enviados", "destinatarios"}}
	delivered   = FieldSpec{Name: "delivered", Type: FieldInt, Aliases: []string{"delivered", "entregues"}}
	unsubs      = FieldSpec{Name: "unsubscribes", Type: FieldInt, Aliases: []string{"unsubscribes", "unsubscribed", "descadastros", "cancelamentos"}}
	bounces     = FieldSpec{Name: "bounces", Type: FieldInt, Aliases: []string{"bounces", "bounced", "rejeicoes"}}
	openRate    = FieldSpec{Name: "open_rate", Type: FieldPercent, Aliases: []string{"open rate", "taxa de abertura"}}
	clickRate   = FieldSpec{Name: "click_rate", Type: FieldPercent, Aliases: []string{"click rate", "taxa de cliques", "ctor"}}
	engRate     = FieldSpec{Name: "engagement_rate", Type: FieldPercent, Aliases: []string{"engagement rate", "taxa de engajamento"}}
)

func metricField(name string, aliases ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldInt, Aliases: aliases}
}

func idField(aliases ...string) FieldSpec {
	return FieldSpec{Name: FieldNameExternalID, Type: FieldString, Aliases: aliases}
}

func nameField(name string, aliases ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldString, Aliases: aliases}
}

func dailyMetric(kind ContentKind, value FieldSpec) *Schema {
	return &Schema{
		Kind:     kind,
		Table:    DailyTable,
		Daily:    true,
		Fields:   []FieldSpec{dateField, value},
		Required: []string{FieldNameDate, value.Name},
	}
}

var postEngagement = Derivation{
	Field:       "engagement_rate",
	Numerator:   []string{"likes", "comments", "shares", "saves"},
	Denominator: []string{"reach"},
	Scale:       100,
	Type:        FieldPercent,
}

// =============================================================================
// SCHEMAS
// =============================================================================

var schemas = map[ContentKind]*Schema{
	KindReach:         dailyMetric(KindReach, reachField),
	KindFollowers:     dailyMetric(KindFollowers, FieldSpec{Name: "followers", Type: FieldInt, Signed: true, Aliases: []string{"followers", "seguidores", "follower count", "total followers", "new followers", "novos seguidores", "seguidores ganhos"}}),
	KindViews:         dailyMetric(KindViews, FieldSpec{Name: "views", Type: FieldInt, Aliases: []string{"views", "visualizacoes", "impressions", "impressoes", "plays", "reproducoes"}}),
	KindInteractions:  dailyMetric(KindInteractions, metricField("interactions", "interactions", "interacoes", "engagements", "engajamento", "engagement", "content interactions", "interacoes com o conteudo")),
	KindProfileVisits: dailyMetric(KindProfileVisits, metricField("profile_visits", "profile visits", "visitas ao perfil", "profile views", "visitas")),
	KindLinkClicks:    dailyMetric(KindLinkClicks, metricField("link_clicks", "link clicks", "cliques no link", "website clicks", "cliques no site", "external link taps", "toques no link externo")),

	KindPosts: {
		Kind:  KindPosts,
		Table: "social_posts",
		Fields: []FieldSpec{
			idField("post id", "id da publicacao", "id do post", "tweet id", "media id", "id"),
			publishedAt,
			nameField("post_type", "post type", "tipo de publicacao", "tipo de post", "media type", "type", "tipo"),
			nameField("caption", "description", "descricao", "caption", "legenda", "tweet text", "text", "texto"),
			nameField("permalink", "permalink", "link", "url", "tweet permalink"),
			reachField, impressions, likesField, commentsF, sharesField, savesField,
			{Name: "video_views", Type: FieldInt, Aliases: []string{"video views", "visualizacoes do video", "plays"}},
			engRate,
		},
		Required:    []string{"published_at"},
		KeyFallback: []string{"permalink"},
		Derived:     []Derivation{postEngagement},
	},

	KindStories: {
		Kind:  KindStories,
		Table: "social_stories",
		Fields: []FieldSpec{
			idField("story id", "id do story", "id dos stories", "media id", "id"),
			publishedAt,
			nameField("permalink", "permalink", "link"),
			reachField, impressions,
			metricField("replies", "replies", "respostas"),
			metricField("exits", "exits", "saidas"),
			metricField("taps_forward", "taps forward", "toques para avancar", "avancos"),
			metricField("taps_back", "taps back", "toques para voltar", "voltar"),
			metricField("navigation", "navigation", "navegacao"),
			metricField("sticker_taps", "sticker taps", "toques em figurinhas"),
		},
		Required:    []string{"published_at"},
		KeyFallback: []string{"permalink"},
	},

	KindYouTubeDailyViews: {
		Kind:  KindYouTubeDailyViews,
		Table: DailyTable,
		Daily: true,
		Fields: []FieldSpec{
			dateField, viewsField, watchHours, subsGained,
			likesField, commentsF, sharesField,
			metricField("unique_viewers", "unique viewers", "espectadores unicos"),
		},
		Required: []string{FieldNameDate, "views"},
	},

	KindYouTubeVideos: {
		Kind:  KindYouTubeVideos,
		Table: "youtube_videos",
		Fields: []FieldSpec{
			idField("video id", "id do video", "content", "conteudo"),
			nameField("title", "video title", "titulo do video", "title", "titulo"),
			{Name: "published_at", Type: FieldDate, Aliases: []string{"video publish time", "horario de publicacao do video", "publish time", "published at", "data de publicacao"}},
			{Name: "duration", Type: FieldDuration, Aliases: []string{"duration", "duracao", "video length"}},
			{Name: "average_view_duration", Type: FieldDuration, Aliases: []string{"average view duration", "duracao media da visualizacao"}},
			viewsField, watchHours, subsGained, impressions,
			{Name: "impressions_ctr", Type: FieldPercent, Aliases: []string{"impressions click through rate", "taxa de cliques de impressoes"}},
			likesField, commentsF, sharesField,
		},
		Required:    []string{"title"},
		KeyFallback: []string{"title", "published_at"},
	},

	KindNewsletterDaily: {
		Kind:  KindNewsletterDaily,
		Table: DailyTable,
		Daily: true,
		Fields: []FieldSpec{
			dateField, sendsField, delivered, opensField, nlClicks, unsubs, bounces, openRate, clickRate,
		},
		Required: []string{FieldNameDate, "opens"},
		Derived: []Derivation{
			{Field: "open_rate", Numerator: []string{"opens"}, Denominator: []string{"delivered", "sends"}, Scale: 100, Type: FieldPercent},
			{Field: "click_rate", Numerator: []string{"clicks"}, Denominator: []string{"delivered", "sends"}, Scale: 100, Type: FieldPercent},
		},
	},

	KindNewsletterPosts: {
		Kind:  KindNewsletterPosts,
		Table: "newsletter_posts",
		Fields: []FieldSpec{
			idField("post id", "campaign id", "email id", "id"),
			nameField("title", "subject", "subject line", "assunto", "title", "titulo"),
			{Name: "sent_at", Type: FieldDate, Aliases: []string{"sent at", "send date", "sent date", "data de envio", "enviado em", "published at", "publish date"}},
			sendsField, delivered, opensField, nlClicks, unsubs, bounces, openRate, clickRate,
		},
		Required:    []string{"title", "sent_at"},
		KeyFallback: []string{"title", "sent_at"},
		Derived: []Derivation{
			{Field: "open_rate", Numerator: []string{"opens"}, Denominator: []string{"delivered", "sends"}, Scale: 100, Type: FieldPercent},
			{Field: "click_rate", Numerator: []string{"clicks"}, Denominator: []string{"delivered", "sends"}, Scale: 100, Type: FieldPercent},
		},
	},

	KindNewsletterSubscribers: {
		Kind:  KindNewsletterSubscribers,
		Table: DailyTable,
		Daily: true,
		Fields: []FieldSpec{
			dateField,
			metricField("subscribers", "subscribers", "total subscribers", "active subscribers", "inscritos", "assinantes", "total de assinantes"),
			metricField("new_subscribers", "new subscribers", "novos inscritos", "novos assinantes"),
			unsubs,
		},
		Required: []string{FieldNameDate},
	},

	KindCampaigns: {
		Kind:  KindCampaigns,
		Table: "ad_campaigns",
		Fields: []FieldSpec{
			idField("campaign id", "id da campanha"),
			nameField("name", "campaign name", "nome da campanha"),
			statusField,
			nameField("objective", "objective", "objetivo"),
			startDate, endDate, spendField, impressions, reachField, adClicks, resultsF, ctrField, cpcField, cpmField,
		},
		Required:    []string{"name"},
		KeyFallback: []string{"name"},
		RangeStart:  "start_date",
		RangeEnd:    "end_date",
		Derived:     adDerivations,
	},

	KindAdSets: {
		Kind:  KindAdSets,
		Table: "ad_sets",
		Fields: []FieldSpec{
			idField("ad set id", "id do conjunto de anuncios"),
			nameField("name", "ad set name", "nome do conjunto de anuncios"),
			nameField("campaign_name", "campaign name", "nome da campanha"),
			statusField, startDate, endDate, spendField, impressions, reachField, adClicks, resultsF, ctrField, cpcField, cpmField,
		},
		Required:    []string{"name"},
		KeyFallback: []string{"name", "campaign_name"},
		RangeStart:  "start_date",
		RangeEnd:    "end_date",
		Derived:     adDerivations,
	},

	KindAds: {
		Kind:  KindAds,
		Table: "ads",
		Fields: []FieldSpec{
			idField("ad id", "id do anuncio"),
			nameField("name", "ad name", "nome do anuncio"),
			nameField("adset_name", "ad set name", "nome do conjunto de anuncios"),
			nameField("campaign_name", "campaign name", "nome da campanha"),
			statusField, startDate, endDate, spendField, impressions, reachField, adClicks, resultsF, ctrField, cpcField, cpmField,
		},
		Required:    []string{"name"},
		KeyFallback: []string{"name", "adset_name", "campaign_name"},
		RangeStart:  "start_date",
		RangeEnd:    "end_date",
		Derived:     adDerivations,
	},
}

var adDerivations = []Derivation{
	{Field: "ctr", Numerator: []string{"clicks"}, Denominator: []string{"impressions"}, Scale: 100, Type: FieldPercent},
	{Field: "cpc", Numerator: []string{"spend"}, Denominator: []string{"clicks"}, Scale: 1, Type: FieldFloat},
}

// EntityTables lists every table an entity kind writes to.
func EntityTables() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range Kinds() {
		s := schemas[k]
		if s.Daily || seen[s.Table] {
			continue
		}
		seen[s.Table] = true
		out = append(out, s.Table)
	}
	return out
}
