// Package chats carries member-to-member and assisted conversations.
//
// A direct thread is keyed by its ordered participant pair and an assisted
// thread by its single owner, so opening a thread twice lands on the same
// document. Messages live in a per-thread subcollection under time-ordered
// ULID ids.
package chats

import (
	"context"
	"sort"
	"strings"

	"github.com/dmitrijs2005/kehilla/internal/codec"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/content"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
	"github.com/oklog/ulid/v2"
)

const (
	Collection   = "chats"
	ThreadsFeed  = "threads"
	MessagesFeed = "messages"

	DefaultMaxLength = 1000
	summaryLength    = 80
)

type Repository struct {
	d      repositories.Deps
	admins repositories.Authorizer
	maxLen int
	log    logging.Logger
}

// New returns a repository accepting messages of up to maxLen characters;
// zero means DefaultMaxLength.
func New(d repositories.Deps, admins repositories.Authorizer, maxLen int) *Repository {
	d = d.WithDefaults()
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	return &Repository{d: d, admins: admins, maxLen: maxLen, log: d.Logger.With("module", "chats")}
}

// DirectThreadID is the same for (a, b) and (b, a).
func DirectThreadID(a, b string) string {
	p := []string{codec.NormalizeEmail(a), codec.NormalizeEmail(b)}
	sort.Strings(p)
	return "direct:" + p[0] + "," + p[1]
}

func AssistedThreadID(owner string) string {
	return "assisted:" + codec.NormalizeEmail(owner)
}

// MessagesCollection is the subcollection holding threadID's messages.
func MessagesCollection(threadID string) string {
	return Collection + "/" + threadID + "/messages"
}

func threadRef(id string) docstore.DocRef {
	return docstore.DocRef{Collection: Collection, ID: id}
}

func messageRef(threadID, id string) docstore.DocRef {
	return docstore.DocRef{Collection: MessagesCollection(threadID), ID: id}
}

func threadSpec(email string) feed.Spec[models.ChatThread] {
	return feed.Spec[models.ChatThread]{
		Name:    ThreadsFeed,
		Query:   docstore.Query{Collection: Collection}.Where("participants", docstore.OpArrayContains, codec.NormalizeEmail(email)),
		Decode:  codec.DecodeThread,
		Arrange: ArrangeThreads,
	}
}

// ArrangeThreads puts the most recently active thread first.
func ArrangeThreads(items []models.ChatThread) []models.ChatThread {
	active := func(t models.ChatThread) int64 {
		if !t.LastMessageAt.IsZero() {
			return t.LastMessageAt.UnixNano()
		}
		return t.CreatedAt.UnixNano()
	}
	sort.SliceStable(items, func(i, j int) bool { return active(items[i]) > active(items[j]) })
	return items
}

func messageSpec(threadID string) feed.Spec[models.ChatMessage] {
	return feed.Spec[models.ChatMessage]{
		Name:   MessagesFeed,
		Query:  docstore.Query{Collection: MessagesCollection(threadID)}.OrderBy("timestamp", false),
		Decode: codec.MessageDecoder(threadID),
		Arrange: func(items []models.ChatMessage) []models.ChatMessage {
			sort.SliceStable(items, func(i, j int) bool {
				if !items[i].Timestamp.Equal(items[j].Timestamp) {
					return items[i].Timestamp.Before(items[j].Timestamp)
				}
				return items[i].ID < items[j].ID
			})
			return items
		},
	}
}

// EnsureThread returns the thread of kind between participants, creating
// it if needed. A direct thread takes two distinct participants, an
// assisted thread exactly one.
func (r *Repository) EnsureThread(ctx context.Context, kind models.ThreadKind, participants ...string) (models.ChatThread, error) {
	var id string
	var members []string
	switch kind {
	case models.ThreadDirect:
		if len(participants) != 2 {
			return models.ChatThread{}, common.ErrInvalidInput.WithMessage("direct thread needs two participants")
		}
		a, b := codec.NormalizeEmail(participants[0]), codec.NormalizeEmail(participants[1])
		if a == "" || b == "" || a == b {
			return models.ChatThread{}, common.ErrInvalidInput.WithMessage("direct thread needs two distinct participants")
		}
		id = DirectThreadID(a, b)
		members = []string{a, b}
		sort.Strings(members)
	case models.ThreadAssisted:
		if len(participants) != 1 || codec.NormalizeEmail(participants[0]) == "" {
			return models.ChatThread{}, common.ErrInvalidInput.WithMessage("assisted thread needs one owner")
		}
		id = AssistedThreadID(participants[0])
		members = []string{codec.NormalizeEmail(participants[0])}
	default:
		return models.ChatThread{}, common.ErrInvalidInput.WithMessage("unknown thread kind %q", kind)
	}

	t := models.ChatThread{ID: id, Kind: kind, Participants: members, CreatedAt: r.d.Now()}
	err := r.d.Txn.RunConditional(ctx, "ensure_thread", threadRef(id), func(cur docstore.Snapshot) (docstore.Fields, error) {
		if cur.Exists {
			return nil, nil
		}
		return codec.EncodeThread(t), nil
	})
	if err != nil {
		return models.ChatThread{}, err
	}
	return repositories.Get(ctx, r.d, threadRef(id), codec.DecodeThread)
}

// Send appends a message. Only participants may post, and admins may post
// to any assisted thread. The thread summary is refreshed afterwards on a
// best effort basis.
func (r *Repository) Send(ctx context.Context, sender repositories.Actor, threadID, text string) (models.ChatMessage, error) {
	body, err := content.Message(text, r.maxLen)
	if err != nil {
		return models.ChatMessage{}, err
	}

	thread, err := repositories.Get(ctx, r.d, threadRef(threadID), codec.DecodeThread)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if err := r.canPost(ctx, sender, thread); err != nil {
		return models.ChatMessage{}, err
	}

	now := r.d.Now()
	m := models.ChatMessage{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ThreadID:    threadID,
		SenderEmail: codec.NormalizeEmail(sender.Email),
		SenderName:  sender.Name,
		Content:     body,
		Timestamp:   now,
	}
	if err := r.d.Store().Create(ctx, messageRef(threadID, m.ID), codec.EncodeMessage(m)); err != nil {
		return models.ChatMessage{}, docstore.Classify(err)
	}

	summary := content.Optional(body, summaryLength)
	err = r.d.Txn.RunConditional(ctx, "thread_summary", threadRef(threadID), func(cur docstore.Snapshot) (docstore.Fields, error) {
		if !cur.Exists {
			return nil, repositories.NotFound(cur.Ref)
		}
		if at, ok := codec.Time(cur.Fields["lastMessageAt"]); ok && !now.After(at) {
			return nil, nil
		}
		return docstore.Fields{"lastMessage": summary, "lastMessageAt": now}, nil
	})
	if err != nil {
		r.log.Warn(ctx, "thread summary update failed", "thread", threadID, "error", err)
	}
	return m, nil
}

func (r *Repository) canPost(ctx context.Context, sender repositories.Actor, t models.ChatThread) error {
	email := codec.NormalizeEmail(sender.Email)
	for _, p := range t.Participants {
		if p == email {
			return nil
		}
	}
	if t.Kind == models.ThreadAssisted {
		admin, err := r.admins.LookupAdmin(ctx, email)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}
	}
	return common.ErrNotOwner.WithMessage("%s is not in thread %s", email, t.ID)
}

// DeleteMessage removes a message. Only its sender or an admin may.
func (r *Repository) DeleteMessage(ctx context.Context, actor repositories.Actor, threadID, id string) error {
	check, err := repositories.OwnerOrAdmin(ctx, r.admins, actor, repositories.StringField("senderEmail"))
	if err != nil {
		return err
	}
	return r.d.Txn.DeleteIf(ctx, "delete_message", messageRef(threadID, id), check)
}

// FetchMessages reads threadID's messages once, oldest first.
func (r *Repository) FetchMessages(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	return repositories.Fetch(ctx, r.d, messageSpec(threadID), r.d.State.Messages.Get(threadID))
}

// FetchThreads reads the threads email takes part in once, most recent
// first.
func (r *Repository) FetchThreads(ctx context.Context, email string) ([]models.ChatThread, error) {
	return repositories.Fetch(ctx, r.d, threadSpec(email), r.d.State.Threads)
}

// SubscribeThreads mirrors the threads email takes part in.
func (r *Repository) SubscribeThreads(ctx context.Context, screen, email string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: ThreadsFeed, Screen: screen}, threadSpec(email), r.d.State.Threads)
}

// SubscribeMessages mirrors one thread into State.Messages. Opening another
// thread on the same screen replaces the feed.
func (r *Repository) SubscribeMessages(ctx context.Context, screen, threadID string) error {
	return repositories.Watch(ctx, r.d, feed.Key{Feed: MessagesFeed, Screen: screen}, messageSpec(threadID), r.d.State.Messages.Get(threadID))
}

func (r *Repository) Stop(screen string) {
	r.d.Registry.Stop(feed.Key{Feed: ThreadsFeed, Screen: screen})
	r.d.Registry.Stop(feed.Key{Feed: MessagesFeed, Screen: screen})
}

// ThreadPeer is the other participant of a direct thread as seen by email.
func ThreadPeer(t models.ChatThread, email string) string {
	email = codec.NormalizeEmail(email)
	for _, p := range t.Participants {
		if !strings.EqualFold(p, email) {
			return p
		}
	}
	return ""
}
