package archive

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Upstream field names of a post record.
const (
	fieldNo        = "no"
	fieldComment   = "com"
	fieldImages    = "images"
	fieldReplies   = "replies"
	fieldUniqueIPs = "unique_ips"
	fieldClosed    = "closed"
)

// OPMeta is the mutable meta-information carried only by a thread's original post.
type OPMeta struct {
	ImageCount    int64
	ReplyCount    int64
	PeakUniqueIPs int64
	Closed        bool
}

// Post is one normalized post. Raw keeps every upstream field for faithful
// re-serialization; the typed fields are derived from it.
type Post struct {
	Board    string
	ThreadID int64
	ID       int64
	Raw      Record
	Text     string
	Quotes   []int64
	Meta     OPMeta
}

// NewPost normalizes a raw record. It fails only when the record carries no
// usable post id; rich-text and reference problems are logged and skipped.
func NewPost(board string, threadID int64, rec Record, text RichText, logger *zap.Logger) (*Post, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id, ok := rec.Int(fieldNo)
	if !ok {
		return nil, fmt.Errorf("post record without %q: %w", fieldNo, ErrMalformedPayload)
	}
	comment, isString := rec[fieldComment].(string)
	if !isString {
		comment = ""
		rec[fieldComment] = comment
	}
	p := &Post{
		Board:    board,
		ThreadID: threadID,
		ID:       id,
		Raw:      rec,
	}
	if text == nil || comment == "" {
		return p, nil
	}

	ex, err := text.Extract(comment)
	if err != nil {
		logger.Warn("rich text extraction failed",
			zap.String("board", board),
			zap.Int64("thread", threadID),
			zap.Int64("post", id),
			zap.Error(err),
		)
		return p, nil
	}
	p.Text = ex.Text
	p.Quotes = p.resolveQuotes(ex.References, logger)
	return p, nil
}

func (p *Post) resolveQuotes(refs []string, logger *zap.Logger) []int64 {
	if len(refs) == 0 {
		return nil
	}
	out := make([]int64, 0, len(refs))
	seen := make(map[int64]struct{}, len(refs))
	for _, href := range refs {
		target, ok, ignorable := ResolveQuote(href)
		if !ok {
			if !ignorable {
				logger.Warn("unresolvable quote link",
					zap.String("href", href),
					zap.String("board", p.Board),
					zap.Int64("thread", p.ThreadID),
					zap.Int64("post", p.ID),
				)
			}
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// ResolveQuote extracts the target post id from a reference href such as
// "#p222" or "/b/thread/111#p222". When no id can be parsed, ignorable reports
// whether the href is a known non-post destination (board root, catalog, or
// catalog search) that should be skipped without a warning.
func ResolveQuote(href string) (id int64, ok bool, ignorable bool) {
	frag := href
	if i := strings.LastIndexByte(href, '#'); i >= 0 {
		frag = href[i+1:]
	}
	if len(frag) > 1 {
		if n, err := strconv.ParseInt(frag[1:], 10, 64); err == nil {
			return n, true, false
		}
	}
	return 0, false, isIgnorableLink(href)
}

func isIgnorableLink(href string) bool {
	if href == "" {
		return false
	}
	if strings.HasPrefix(href, "/") && strings.HasSuffix(href, "/") {
		return true
	}
	if strings.Contains(href, "catalog#s=") {
		return true
	}
	path := href
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, "/catalog")
}

// Update refreshes the OP meta-information from a newer copy of the record.
// The unique-visitor peak never decreases and the closed marker is sticky.
func (p *Post) Update(rec Record) {
	p.Meta.ImageCount = rec.IntOr(fieldImages, p.Meta.ImageCount)
	p.Meta.ReplyCount = rec.IntOr(fieldReplies, p.Meta.ReplyCount)
	if ips := rec.IntOr(fieldUniqueIPs, 0); ips > p.Meta.PeakUniqueIPs {
		p.Meta.PeakUniqueIPs = ips
	}
	if rec.Flag(fieldClosed) {
		p.Meta.Closed = true
	}
}

// Doc returns the persisted form of the post.
func (p *Post) Doc() PostDoc {
	quotes := p.Quotes
	if quotes == nil {
		quotes = []int64{}
	}
	return PostDoc{
		Board:  p.Board,
		No:     p.ID,
		Thread: p.ThreadID,
		Closed: p.Meta.Closed,
		Text:   p.Text,
		Quotes: quotes,
		Info:   p.Raw,
	}
}
