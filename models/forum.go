package models

import "time"

const (
	ForumPublic        = "public"
	ForumTicketHolders = "ticket-holders"
)

type Forum struct {
	ID          string    `json:"id" bson:"_id"`
	EventID     string    `json:"eventId" bson:"eventId"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	Category    string    `json:"category" bson:"category"`
	Visibility  string    `json:"visibility" bson:"visibility"`
	CreatorID   string    `json:"creatorId" bson:"creatorId"`
	Members     []string  `json:"members" bson:"members"`
	PostCount   int       `json:"postCount" bson:"postCount"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

type Reply struct {
	ID        string     `json:"id" bson:"id"`
	AuthorID  string     `json:"authorId" bson:"authorId"`
	Content   string     `json:"content" bson:"content"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty" bson:"editedAt,omitempty"`
}

func (p *Post) Reply(id string) (Reply, bool) {
	for _, r := range p.Replies {
		if r.ID == id {
			return r, true
		}
	}
	return Reply{}, false
}

type Report struct {
	By     string    `json:"by" bson:"by"`
	Reason string    `json:"reason" bson:"reason"`
	At     time.Time `json:"at" bson:"at"`
}

type Post struct {
	ID        string    `json:"id" bson:"_id"`
	ForumID   string    `json:"forumId" bson:"forumId"`
	AuthorID  string    `json:"authorId" bson:"authorId"`
	Content   string    `json:"content" bson:"content"`
	Likes     []string  `json:"likes" bson:"likes"`
	Pinned    bool      `json:"pinned" bson:"pinned"`
	Replies   []Reply   `json:"replies" bson:"replies"`
	Reports   []Report  `json:"-" bson:"reports,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}
