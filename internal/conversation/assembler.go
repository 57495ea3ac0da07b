// Package conversation assembles conversations from folder queries and tracks
// which conversations a run has already analyzed.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"followup/internal/facts"
	"followup/internal/model"
	"followup/internal/util"

	"github.com/charmbracelet/log"
)

// Filter narrows a folder query. Subject is a cleaned subject to search for;
// Since bounds the message time. Conversation identity is deliberately absent:
// equality filtering happens in-process.
type Filter struct {
	Subject string
	Since   time.Time
	Limit   int64
}

// Provider is the mail retrieval dependency.
type Provider interface {
	FetchFolder(ctx context.Context, mailbox string, folder model.Folder, f Filter) ([]model.Message, error)
}

var (
	primaryFolders  = []model.Folder{model.FolderInbox, model.FolderSent}
	fallbackFolders = []model.Folder{model.FolderInbox, model.FolderSent, model.FolderArchive, model.FolderTrash}
)

const (
	primaryLimit  = 50
	fallbackLimit = 500
)

// ErrAllFoldersFailed is returned when no folder of a strategy could be read.
var ErrAllFoldersFailed = errors.New("all folders failed")

// Assembler reconstructs conversations for one mailbox.
type Assembler struct {
	provider     Provider
	mailbox      string
	fallbackDays int
	now          func() time.Time
	logger       *log.Logger
}

func NewAssembler(p Provider, mailbox string, fallbackDays int, logger *log.Logger) *Assembler {
	if fallbackDays < 90 {
		fallbackDays = 90
	}
	return &Assembler{
		provider:     p,
		mailbox:      mailbox,
		fallbackDays: fallbackDays,
		now:          time.Now,
		logger:       logger,
	}
}

// Assemble returns the conversation with the given identifier. The primary
// strategy searches inbox and sent by cleaned subject; the fallback scans a
// wider folder set over a longer window. Both filter by exact conversation
// identifier after fetching.
func (a *Assembler) Assemble(ctx context.Context, conversationID, owner, subjectHint string) (model.Conversation, error) {
	var (
		msgs []model.Message
		err  error
	)
	if hint := util.CleanSubject(subjectHint); hint != "" {
		msgs, err = a.collect(ctx, conversationID, primaryFolders, Filter{Subject: hint, Limit: primaryLimit})
		if err != nil {
			a.logger.Warn("primary conversation search failed", "conversation", conversationID, "err", err)
		}
	}
	if len(msgs) == 0 {
		since := a.now().AddDate(0, 0, -a.fallbackDays)
		msgs, err = a.collect(ctx, conversationID, fallbackFolders, Filter{Since: since, Limit: fallbackLimit})
		if err != nil {
			return model.Conversation{}, fmt.Errorf("assemble conversation %s: %w", conversationID, err)
		}
	}
	return New(conversationID, msgs), nil
}

func (a *Assembler) collect(ctx context.Context, conversationID string, folders []model.Folder, f Filter) ([]model.Message, error) {
	var out []model.Message
	failed := 0
	for _, folder := range folders {
		msgs, err := a.provider.FetchFolder(ctx, a.mailbox, folder, f)
		if errors.Is(err, model.ErrTransient) {
			msgs, err = a.provider.FetchFolder(ctx, a.mailbox, folder, f)
		}
		if err != nil {
			failed++
			a.logger.Warn("folder fetch failed", "folder", folder, "err", err)
			continue
		}
		for _, m := range msgs {
			if m.ConversationID == conversationID {
				out = append(out, m)
			}
		}
	}
	if failed == len(folders) {
		return nil, ErrAllFoldersFailed
	}
	return out, nil
}

// New builds a Conversation from raw messages: deduplicated by ID, sorted
// ascending by best timestamp with ID as tiebreak, latest resolved.
func New(id string, msgs []model.Message) model.Conversation {
	seen := make(map[string]bool, len(msgs))
	uniq := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		uniq = append(uniq, m)
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		ti, tj := facts.BestTime(uniq[i]), facts.BestTime(uniq[j])
		if ti.Equal(tj) {
			return uniq[i].ID < uniq[j].ID
		}
		return ti.Before(tj)
	})
	conv := model.Conversation{ID: id, Messages: uniq}
	if latest, ok := Latest(uniq); ok {
		conv.Latest = latest
	}
	return conv
}

// Latest picks the message with the most recent valid timestamp. Messages
// carrying the epoch fallback are ignored unless they are the only message.
// Ties resolve to the larger message ID.
func Latest(msgs []model.Message) (model.Message, bool) {
	if len(msgs) == 0 {
		return model.Message{}, false
	}
	if len(msgs) == 1 {
		return msgs[0], true
	}
	var (
		best  model.Message
		bestT time.Time
		found bool
	)
	for _, m := range msgs {
		t := facts.BestTime(m)
		if facts.IsEpoch(t) {
			continue
		}
		if !found || t.After(bestT) || (t.Equal(bestT) && m.ID > best.ID) {
			best, bestT, found = m, t, true
		}
	}
	if !found {
		return msgs[0], true
	}
	return best, true
}

// Cache holds conversations assembled during one run. It is not safe for
// concurrent use and must not outlive the run.
type Cache struct {
	entries map[string]model.Conversation
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]model.Conversation)}
}

func (c *Cache) Get(id string) (model.Conversation, bool) {
	conv, ok := c.entries[id]
	return conv, ok
}

func (c *Cache) Put(conv model.Conversation) {
	c.entries[conv.ID] = conv
}

func (c *Cache) Len() int { return len(c.entries) }
