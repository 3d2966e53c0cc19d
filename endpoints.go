package treeverse

import (
	"encoding/json"
	"net/url"
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultOrigin = "https://x.com"

	// fallbackQueryID is the TweetDetail operation id captured from the live web client.
	// A sniffed id takes precedence.
	fallbackQueryID = "YCNdW_ZytXfV9YR3cJK9kw"
)

var tweetDetailPathRe = regexp.MustCompile(`/i/api/graphql/([^/?]+)/TweetDetail`)

// QueryInfo identifies the TweetDetail operation: its query id and the raw
// features JSON the web client sends with it.
type QueryInfo struct {
	QueryID  string
	Features string
}

// QueryInfoProvider supplies the query info observed in the live application.
// It reports false when nothing has been observed.
type QueryInfoProvider interface {
	QueryInfo() (QueryInfo, bool)
}

// StaticQueryInfo is a fixed QueryInfoProvider.
type StaticQueryInfo QueryInfo

// QueryInfo implements QueryInfoProvider.
func (s StaticQueryInfo) QueryInfo() (QueryInfo, bool) {
	return QueryInfo(s), s.QueryID != ""
}

// DefaultQueryInfo returns the built-in query id and feature flags.
func DefaultQueryInfo() QueryInfo {
	f, _ := json.Marshal(defaultFeatures())
	return QueryInfo{QueryID: fallbackQueryID, Features: string(f)}
}

// resolveQueryInfo fills whatever the provider could not supply from the defaults.
func resolveQueryInfo(p QueryInfoProvider) QueryInfo {
	def := DefaultQueryInfo()
	if p == nil {
		return def
	}
	info, ok := p.QueryInfo()
	if !ok {
		return def
	}
	if info.QueryID == "" {
		info.QueryID = def.QueryID
	}
	if info.Features == "" {
		info.Features = def.Features
	}
	return info
}

// SniffQueryInfo extracts the query id and features from an observed TweetDetail request URL.
func SniffQueryInfo(rawURL string) (QueryInfo, bool) {
	m := tweetDetailPathRe.FindStringSubmatch(rawURL)
	if m == nil {
		return QueryInfo{}, false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return QueryInfo{}, false
	}
	return QueryInfo{QueryID: m[1], Features: u.Query().Get("features")}, true
}

// SniffedQueryInfo keeps the most recently observed query info for a limited time;
// the web client rotates query ids, so a stale observation is dropped in favor of the defaults.
type SniffedQueryInfo struct {
	cache *cache.Cache
}

const sniffedKey = "TweetDetail"

// NewSniffedQueryInfo creates a provider whose observations expire after ttl.
func NewSniffedQueryInfo(ttl time.Duration) *SniffedQueryInfo {
	return &SniffedQueryInfo{cache: cache.New(ttl, 2*ttl)}
}

// Observe records the query info carried by rawURL, if it is a TweetDetail request.
func (s *SniffedQueryInfo) Observe(rawURL string) bool {
	info, ok := SniffQueryInfo(rawURL)
	if !ok {
		return false
	}
	s.Set(info)
	return true
}

// Set records info directly.
func (s *SniffedQueryInfo) Set(info QueryInfo) {
	s.cache.Set(sniffedKey, info, cache.DefaultExpiration)
}

// QueryInfo implements QueryInfoProvider.
func (s *SniffedQueryInfo) QueryInfo() (QueryInfo, bool) {
	v, ok := s.cache.Get(sniffedKey)
	if !ok {
		return QueryInfo{}, false
	}
	info, ok := v.(QueryInfo)
	return info, ok
}

// BuildTweetDetailURL returns the TweetDetail request URL for a focal tweet and optional cursor.
func BuildTweetDetailURL(origin, tweetID, cursor string, info QueryInfo) string {
	if origin == "" {
		origin = defaultOrigin
	}
	variables := map[string]any{
		"focalTweetId":                           tweetID,
		"with_rux_injections":                    false,
		"rankingMode":                            "Relevance",
		"includePromotedContent":                 true,
		"withCommunity":                          true,
		"withQuickPromoteEligibilityTweetFields": true,
		"withBirdwatchNotes":                     true,
		"withVoice":                              true,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	return addGraphQLParams(origin+"/i/api/graphql/"+info.QueryID+"/TweetDetail", variables, info.Features, defaultFieldToggles())
}

// addGraphQLParams builds the full URL with variables, raw features JSON and optional fieldToggles.
func addGraphQLParams(base string, variables map[string]any, features string, fieldToggles map[string]any) string {
	v, _ := json.Marshal(variables)
	params := url.Values{}
	params.Set("variables", string(v))
	params.Set("features", features)
	if fieldToggles != nil {
		ft, _ := json.Marshal(fieldToggles)
		params.Set("fieldToggles", string(ft))
	}
	return base + "?" + params.Encode()
}

func defaultFieldToggles() map[string]any {
	return map[string]any{
		"withArticleRichContentState": true,
		"withArticlePlainText":        false,
		"withGrokAnalyze":             false,
		"withDisallowedReplyControls": false,
	}
}

// defaultFeatures returns the TweetDetail feature flags captured from the web client.
func defaultFeatures() map[string]any {
	return map[string]any{
		"articles_preview_enabled":                                                true,
		"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
		"communities_web_enable_tweet_community_results_fetch":                    true,
		"creator_subscriptions_tweet_preview_api_enabled":                         true,
		"freedom_of_speech_not_reach_fetch_enabled":                               true,
		"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
		"longform_notetweets_consumption_enabled":                                 true,
		"longform_notetweets_inline_media_enabled":                                true,
		"longform_notetweets_rich_text_read_enabled":                              true,
		"post_ctas_fetch_enabled":                                                 false,
		"premium_content_api_read_enabled":                                        false,
		"profile_label_improvements_pcf_label_in_post_enabled":                    true,
		"responsive_web_edit_tweet_api_enabled":                                   true,
		"responsive_web_enhance_cards_enabled":                                    false,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
		"responsive_web_graphql_timeline_navigation_enabled":                      true,
		"responsive_web_grok_analysis_button_from_backend":                        true,
		"responsive_web_grok_analyze_button_fetch_trends_enabled":                 false,
		"responsive_web_grok_analyze_post_followups_enabled":                      true,
		"responsive_web_grok_annotations_enabled":                                 true,
		"responsive_web_grok_community_note_auto_translation_is_enabled":          false,
		"responsive_web_grok_image_annotation_enabled":                            true,
		"responsive_web_grok_imagine_annotation_enabled":                          true,
		"responsive_web_grok_share_attachment_enabled":                            true,
		"responsive_web_grok_show_grok_translated_post":                           false,
		"responsive_web_jetfuel_frame":                                            true,
		"responsive_web_profile_redirect_enabled":                                 false,
		"responsive_web_twitter_article_tweet_consumption_enabled":                true,
		"rweb_tipjar_consumption_enabled":                                         false,
		"rweb_video_screen_enabled":                                               false,
		"standardized_nudges_misinfo":                                             true,
		"tweet_awards_web_tipping_enabled":                                        false,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
		"verified_phone_label_enabled":                                            false,
		"view_counts_everywhere_api_enabled":                                      true,
	}
}
