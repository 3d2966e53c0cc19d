package treeverse

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const twitterTimeLayout = "Mon Jan 02 15:04:05 +0000 2006"

// rtlLanguages are the tweet languages rendered right-to-left.
var rtlLanguages = map[string]bool{"ar": true, "fa": true, "he": true, "iw": true, "ur": true, "ps": true, "sd": true, "ug": true, "yi": true}

// ParseResponse turns one TweetDetail response body into a Batch rooted at focalID.
// Both the threaded GraphQL shape and the legacy globalObjects shape are accepted.
// Records that cannot be read (deleted, restricted, missing author, malformed) are
// skipped; only a body that is not a JSON object is an error.
func ParseResponse(focalID string, body []byte) (*Batch, error) {
	var probe struct {
		GlobalObjects json.RawMessage `json:"globalObjects"`
		Errors        json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("unmarshal TweetDetail: %w", err)
	}
	logResponseErrors(focalID, probe.Errors)

	var p batchParser
	if isNull(probe.GlobalObjects) {
		p.parseThreaded(body)
	} else {
		p.parseLegacy(body)
	}

	slog.Debug("parsed TweetDetail",
		slog.String("focal", focalID),
		slog.Int("tweets", len(p.tweets)),
		slog.Int("skipped", p.skipped),
		slog.Bool("has_cursor", p.cursor != ""))

	return &Batch{RootID: focalID, Tweets: p.tweets, Cursor: p.cursor}, nil
}

// logResponseErrors reports GraphQL errors that came back alongside the data.
func logResponseErrors(focalID string, raw json.RawMessage) {
	if isNull(raw) {
		return
	}
	var errs []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &errs); err != nil || len(errs) == 0 {
		return
	}
	slog.Warn("TweetDetail returned errors",
		slog.String("focal", focalID),
		slog.Int("code", errs[0].Code),
		slog.String("message", errs[0].Message),
		slog.Int("count", len(errs)))
}

// batchParser accumulates records in encounter order and the winning cursor.
type batchParser struct {
	tweets  []*Tweet
	cursor  string
	skipped int
}

func (p *batchParser) add(t *Tweet, reason string, entryID string) {
	if t == nil {
		p.skipped++
		slog.Debug("skip tweet", slog.String("entry", entryID), slog.String("reason", reason))
		return
	}
	p.tweets = append(p.tweets, t)
}

func (p *batchParser) skip(reason, entryID string) {
	p.add(nil, reason, entryID)
}

// offerCursor keeps the last qualifying cursor seen in document order.
func (p *batchParser) offerCursor(cursorType, value string) {
	switch cursorType {
	case "Bottom", "ShowMoreThreads":
		if value != "" {
			p.cursor = value
		}
	}
}

// --- Threaded conversation (GraphQL) shape ---

type instructionKind int

const (
	instructionUnknown instructionKind = iota
	instructionAddEntries
	instructionReplaceEntry
)

type entryKind int

const (
	entryUnknown entryKind = iota
	entryItem
	entryModule
	entryCursor
)

// Every level below the instruction list is kept raw and decoded on its own, so one
// malformed instruction, entry or tweet costs only itself.
type threadedResponse struct {
	Data struct {
		Conversation struct {
			Instructions []json.RawMessage `json:"instructions"`
		} `json:"threaded_conversation_with_injections_v2"`
	} `json:"data"`
}

type instruction struct {
	Type    string            `json:"type"`
	Entries []json.RawMessage `json:"entries"`
	Entry   json.RawMessage   `json:"entry"`
}

func (in instruction) kind() instructionKind {
	switch in.Type {
	case "TimelineAddEntries":
		return instructionAddEntries
	case "TimelineReplaceEntry":
		return instructionReplaceEntry
	}
	return instructionUnknown
}

type entry struct {
	EntryID string       `json:"entryId"`
	Content entryContent `json:"content"`
}

type entryContent struct {
	TypeName    string            `json:"__typename"`
	EntryType   string            `json:"entryType"`
	ItemContent json.RawMessage   `json:"itemContent"`
	Items       []json.RawMessage `json:"items"`
	CursorType  string            `json:"cursorType"`
	Value       string            `json:"value"`
}

func (c entryContent) kind() entryKind {
	t := c.TypeName
	if t == "" {
		t = c.EntryType
	}
	switch t {
	case "TimelineTimelineItem":
		return entryItem
	case "TimelineTimelineModule":
		return entryModule
	case "TimelineTimelineCursor":
		return entryCursor
	}
	return entryUnknown
}

type moduleItem struct {
	EntryID string `json:"entryId"`
	Item    struct {
		ItemContent json.RawMessage `json:"itemContent"`
	} `json:"item"`
}

type itemContent struct {
	TypeName     string `json:"__typename"`
	TweetResults struct {
		Result json.RawMessage `json:"result"`
	} `json:"tweet_results"`
}

type tweetResult struct {
	TypeName string       `json:"__typename"`
	RestID   string       `json:"rest_id"`
	Tweet    *tweetResult `json:"tweet"` // set on TweetWithVisibilityResults
	Core     struct {
		UserResults struct {
			Result *userResult `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Legacy *tweetLegacy `json:"legacy"`
}

type userResult struct {
	Core struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"core"`
	Avatar struct {
		ImageURL string `json:"image_url"`
	} `json:"avatar"`
	Legacy struct {
		Name            string `json:"name"`
		ScreenName      string `json:"screen_name"`
		ProfileImageURL string `json:"profile_image_url_https"`
	} `json:"legacy"`
}

type tweetLegacy struct {
	IDStr            string        `json:"id_str"`
	FullText         string        `json:"full_text"`
	CreatedAt        string        `json:"created_at"`
	InReplyToStatus  string        `json:"in_reply_to_status_id_str"`
	ReplyCount       int           `json:"reply_count"`
	Lang             string        `json:"lang"`
	UserIDStr        string        `json:"user_id_str"`
	Entities         mediaEntities `json:"entities"`
	ExtendedEntities mediaEntities `json:"extended_entities"`
}

type mediaEntities struct {
	Media []struct {
		Type          string `json:"type"`
		MediaURLHTTPS string `json:"media_url_https"`
	} `json:"media"`
}

// isNull reports whether a raw field was absent or JSON null.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (p *batchParser) parseThreaded(body []byte) {
	var raw threadedResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		slog.Debug("skip conversation parse error", slog.Any("error", err))
		return
	}
	for i, rawIn := range raw.Data.Conversation.Instructions {
		var in instruction
		if err := json.Unmarshal(rawIn, &in); err != nil {
			slog.Debug("skip instruction parse error", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		switch in.kind() {
		case instructionAddEntries:
			for _, e := range in.Entries {
				p.parseEntry(e)
			}
		case instructionReplaceEntry:
			if !isNull(in.Entry) {
				p.parseEntry(in.Entry)
			}
		default:
			// TimelineClearCache, TimelineTerminateTimeline and friends carry nothing for us.
		}
	}
}

func (p *batchParser) parseEntry(raw json.RawMessage) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		p.skip("entry parse error: "+err.Error(), "")
		return
	}
	switch e.Content.kind() {
	case entryItem:
		p.parseItem(e.EntryID, e.Content.ItemContent)
	case entryModule:
		for _, rawItem := range e.Content.Items {
			var it moduleItem
			if err := json.Unmarshal(rawItem, &it); err != nil {
				p.skip("module item parse error: "+err.Error(), e.EntryID)
				continue
			}
			p.parseItem(it.EntryID, it.Item.ItemContent)
		}
	case entryCursor:
		p.offerCursor(e.Content.CursorType, e.Content.Value)
	}
}

func (p *batchParser) parseItem(entryID string, raw json.RawMessage) {
	if isNull(raw) {
		return
	}
	var ic itemContent
	if err := json.Unmarshal(raw, &ic); err != nil {
		p.skip("item parse error: "+err.Error(), entryID)
		return
	}
	if isNull(ic.TweetResults.Result) {
		return
	}
	var r tweetResult
	if err := json.Unmarshal(ic.TweetResults.Result, &r); err != nil {
		p.skip("tweet parse error: "+err.Error(), entryID)
		return
	}
	t, reason := tweetFromResult(&r)
	p.add(t, reason, entryID)
}

// tweetFromResult reads one candidate tweet result. On failure it returns a nil
// tweet and the reason, which callers log and skip.
func tweetFromResult(r *tweetResult) (*Tweet, string) {
	if r.TypeName == "TweetWithVisibilityResults" {
		r = r.Tweet
	}
	if r == nil {
		return nil, "empty visibility envelope"
	}
	if r.TypeName == "TweetTombstone" || r.TypeName == "TweetUnavailable" {
		return nil, strings.ToLower(strings.TrimPrefix(r.TypeName, "Tweet"))
	}
	if r.Legacy == nil {
		return nil, "missing legacy fields"
	}
	leg := r.Legacy

	var u userResult
	if r.Core.UserResults.Result != nil {
		u = *r.Core.UserResults.Result
	}
	name := firstNonEmpty(u.Core.Name, u.Legacy.Name)
	handle := firstNonEmpty(u.Core.ScreenName, u.Legacy.ScreenName)
	if name == "" && handle == "" {
		return nil, "missing author"
	}

	id := firstNonEmpty(leg.IDStr, r.RestID)
	if id == "" {
		return nil, "missing id"
	}

	return &Tweet{
		ID:          id,
		ParentID:    leg.InReplyToStatus,
		Handle:      handle,
		DisplayName: name,
		AvatarURL:   firstNonEmpty(u.Avatar.ImageURL, u.Legacy.ProfileImageURL),
		BodyHTML:    bodyHTML(leg.FullText),
		BodyText:    leg.FullText,
		CreatedAt:   parseTwitterTime(leg.CreatedAt),
		Replies:     leg.ReplyCount,
		Images:      photoURLs(leg.ExtendedEntities, leg.Entities),
		RTL:         rtlLanguages[leg.Lang],
	}, ""
}

// photoURLs prefers extended entities and keeps only photos.
func photoURLs(extended, basic mediaEntities) []string {
	media := extended.Media
	if len(media) == 0 {
		media = basic.Media
	}
	var urls []string
	for _, m := range media {
		if m.Type == "photo" && m.MediaURLHTTPS != "" {
			urls = append(urls, m.MediaURLHTTPS)
		}
	}
	return urls
}

// --- Legacy (globalObjects) shape ---

type legacyResponse struct {
	GlobalObjects struct {
		Tweets map[string]json.RawMessage `json:"tweets"`
		Users  map[string]json.RawMessage `json:"users"`
	} `json:"globalObjects"`
	Timeline struct {
		Instructions []json.RawMessage `json:"instructions"`
	} `json:"timeline"`
}

type legacyInstruction struct {
	AddEntries struct {
		Entries []json.RawMessage `json:"entries"`
	} `json:"addEntries"`
}

type legacyEntry struct {
	Content struct {
		Operation *struct {
			Cursor struct {
				CursorType string `json:"cursorType"`
				Value      string `json:"value"`
			} `json:"cursor"`
		} `json:"operation"`
	} `json:"content"`
}

type legacyUser struct {
	Name            string `json:"name"`
	ScreenName      string `json:"screen_name"`
	ProfileImageURL string `json:"profile_image_url_https"`
}

func (p *batchParser) parseLegacy(body []byte) {
	var raw legacyResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		slog.Debug("skip legacy conversation parse error", slog.Any("error", err))
		return
	}

	// Object keys carry no order in Go; snowflake ids sort chronologically,
	// which keeps parents ahead of their replies.
	ids := make([]string, 0, len(raw.GlobalObjects.Tweets))
	for id := range raw.GlobalObjects.Tweets {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareSnowflake)

	for _, key := range ids {
		var lt tweetLegacy
		if err := json.Unmarshal(raw.GlobalObjects.Tweets[key], &lt); err != nil {
			p.skip("tweet parse error: "+err.Error(), key)
			continue
		}
		var user legacyUser
		rawUser, ok := raw.GlobalObjects.Users[lt.UserIDStr]
		if ok {
			if err := json.Unmarshal(rawUser, &user); err != nil {
				p.skip("user parse error: "+err.Error(), key)
				continue
			}
		}
		if user.Name == "" && user.ScreenName == "" {
			p.skip("missing author", key)
			continue
		}
		p.add(&Tweet{
			ID:          firstNonEmpty(lt.IDStr, key),
			ParentID:    lt.InReplyToStatus,
			Handle:      user.ScreenName,
			DisplayName: user.Name,
			AvatarURL:   user.ProfileImageURL,
			BodyHTML:    bodyHTML(lt.FullText),
			BodyText:    lt.FullText,
			CreatedAt:   parseTwitterTime(lt.CreatedAt),
			Replies:     lt.ReplyCount,
			Images:      photoURLs(lt.ExtendedEntities, lt.Entities),
			RTL:         rtlLanguages[lt.Lang],
		}, "", key)
	}

	for _, rawIn := range raw.Timeline.Instructions {
		var in legacyInstruction
		if err := json.Unmarshal(rawIn, &in); err != nil {
			slog.Debug("skip instruction parse error", slog.Any("error", err))
			continue
		}
		for _, rawEntry := range in.AddEntries.Entries {
			var e legacyEntry
			if err := json.Unmarshal(rawEntry, &e); err != nil {
				slog.Debug("skip entry parse error", slog.Any("error", err))
				continue
			}
			if op := e.Content.Operation; op != nil {
				p.offerCursor(op.Cursor.CursorType, op.Cursor.Value)
			}
		}
	}
}

// --- helpers ---

func compareSnowflake(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

func parseTwitterTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(twitterTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// bodyHTML escapes the tweet text for HTML display and keeps its line breaks.
func bodyHTML(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
