package forums

import (
	"context"
	"errors"
	"regexp"
	"time"

	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Filter struct {
	EventID  string
	Category string
	Search   string
}

// ForumUpdate is a partial change to a forum. Join and Leave carry a user id.
type ForumUpdate struct {
	Name        *string
	Description *string
	Category    *string
	Join        string
	Leave       string
}

// PostUpdate is a partial change to a post. Only the set fields apply.
// EditReply and DropReply match only while the reply exists.
type PostUpdate struct {
	Content   *string
	Like      string
	Unlike    string
	Pinned    *bool
	Reply     *models.Reply
	EditReply *ReplyEdit
	DropReply string
	Report    *models.Report
}

type ReplyEdit struct {
	ID      string
	Content string
}

type Store interface {
	Insert(ctx context.Context, f *models.Forum) error
	Forum(ctx context.Context, id string) (models.Forum, error)
	List(ctx context.Context, f Filter, page utils.Page) ([]models.Forum, int64, error)
	Update(ctx context.Context, id string, upd ForumUpdate) (bool, error)
	// Delete removes the forum and its posts.
	Delete(ctx context.Context, id string) (bool, error)

	InsertPost(ctx context.Context, p *models.Post) error
	Post(ctx context.Context, forumID, postID string) (models.Post, error)
	Posts(ctx context.Context, forumID string, page utils.Page) ([]models.Post, int64, error)
	UpdatePost(ctx context.Context, forumID, postID string, upd PostUpdate) (bool, error)
	DeletePost(ctx context.Context, forumID, postID string) (bool, error)
}

type MongoStore struct {
	forums *mongo.Collection
	posts  *mongo.Collection
	now    func() time.Time
}

func NewMongoStore(forums, posts *mongo.Collection) *MongoStore {
	if forums == nil {
		forums = db.ForumsCollection
	}
	if posts == nil {
		posts = db.PostsCollection
	}
	return &MongoStore{forums: forums, posts: posts, now: time.Now}
}

func (s *MongoStore) Insert(ctx context.Context, f *models.Forum) error {
	_, err := s.forums.InsertOne(ctx, f)
	if db.IsDuplicateKey(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *MongoStore) Forum(ctx context.Context, id string) (models.Forum, error) {
	var f models.Forum
	err := s.forums.FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return f, models.ErrNotFound
	}
	return f, err
}

func (s *MongoStore) List(ctx context.Context, f Filter, page utils.Page) ([]models.Forum, int64, error) {
	filter := listFilter(f)
	total, err := s.forums.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := s.forums.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "postCount", Value: -1}, {Key: "createdAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit)))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []models.Forum{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *MongoStore) Update(ctx context.Context, id string, upd ForumUpdate) (bool, error) {
	res, err := s.forums.UpdateOne(ctx, bson.M{"_id": id}, forumUpdateDoc(upd, s.now()))
	if db.IsDuplicateKey(err) {
		return false, models.ErrDuplicate
	}
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.forums.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil || res.DeletedCount == 0 {
		return false, err
	}
	if _, err := s.posts.DeleteMany(ctx, bson.M{"forumId": id}); err != nil {
		return true, err
	}
	return true, nil
}

func (s *MongoStore) InsertPost(ctx context.Context, p *models.Post) error {
	if _, err := s.posts.InsertOne(ctx, p); err != nil {
		return err
	}
	return s.bumpPosts(ctx, p.ForumID, 1)
}

func (s *MongoStore) bumpPosts(ctx context.Context, forumID string, by int) error {
	_, err := s.forums.UpdateOne(ctx, bson.M{"_id": forumID},
		bson.M{"$inc": bson.M{"postCount": by}, "$set": bson.M{"updatedAt": s.now()}})
	return err
}

func (s *MongoStore) Post(ctx context.Context, forumID, postID string) (models.Post, error) {
	var p models.Post
	err := s.posts.FindOne(ctx, bson.M{"_id": postID, "forumId": forumID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return p, models.ErrNotFound
	}
	return p, err
}

// Posts lists pinned posts first, then newest first.
func (s *MongoStore) Posts(ctx context.Context, forumID string, page utils.Page) ([]models.Post, int64, error) {
	filter := bson.M{"forumId": forumID}
	total, err := s.posts.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := s.posts.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "pinned", Value: -1}, {Key: "createdAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit)))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []models.Post{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *MongoStore) UpdatePost(ctx context.Context, forumID, postID string, upd PostUpdate) (bool, error) {
	res, err := s.posts.UpdateOne(ctx, postFilter(forumID, postID, upd), postUpdateDoc(upd, s.now()))
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) DeletePost(ctx context.Context, forumID, postID string) (bool, error) {
	res, err := s.posts.DeleteOne(ctx, bson.M{"_id": postID, "forumId": forumID})
	if err != nil || res.DeletedCount == 0 {
		return false, err
	}
	return true, s.bumpPosts(ctx, forumID, -1)
}

func listFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.EventID != "" {
		filter["eventId"] = f.EventID
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Search != "" {
		rx := containsFold(f.Search)
		filter["$or"] = bson.A{bson.M{"name": rx}, bson.M{"description": rx}}
	}
	return filter
}

func containsFold(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

func forumUpdateDoc(u ForumUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Category != nil {
		set["category"] = *u.Category
	}
	doc := bson.M{"$set": set}
	if u.Join != "" {
		doc["$addToSet"] = bson.M{"members": u.Join}
	}
	if u.Leave != "" {
		doc["$pull"] = bson.M{"members": u.Leave}
	}
	return doc
}

// postFilter refuses a second report from the same user.
func postFilter(forumID, postID string, u PostUpdate) bson.M {
	f := bson.M{"_id": postID, "forumId": forumID}
	if u.Report != nil {
		f["reports.by"] = bson.M{"$ne": u.Report.By}
	}
	switch {
	case u.EditReply != nil:
		f["replies.id"] = u.EditReply.ID
	case u.DropReply != "":
		f["replies.id"] = u.DropReply
	}
	return f
}

func postUpdateDoc(u PostUpdate, now time.Time) bson.M {
	set := bson.M{}
	if u.Content != nil {
		set["content"] = *u.Content
		set["updatedAt"] = now
	}
	if u.Pinned != nil {
		set["pinned"] = *u.Pinned
	}
	if u.EditReply != nil {
		// positional operator resolves against replies.id in postFilter
		set["replies.$.content"] = u.EditReply.Content
		set["replies.$.editedAt"] = now
	}
	doc := bson.M{}
	if len(set) > 0 {
		doc["$set"] = set
	}
	if u.Like != "" {
		doc["$addToSet"] = bson.M{"likes": u.Like}
	}
	pull := bson.M{}
	if u.Unlike != "" {
		pull["likes"] = u.Unlike
	}
	if u.DropReply != "" {
		pull["replies"] = bson.M{"id": u.DropReply}
	}
	if len(pull) > 0 {
		doc["$pull"] = pull
	}
	push := bson.M{}
	if u.Reply != nil {
		push["replies"] = *u.Reply
	}
	if u.Report != nil {
		push["reports"] = *u.Report
	}
	if len(push) > 0 {
		doc["$push"] = push
	}
	return doc
}
