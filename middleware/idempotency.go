package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const idempotencyTTL = 24 * time.Hour

// IdempotencyStore keeps one record per (user, key).
type IdempotencyStore interface {
	// Claim inserts rec and fails with models.ErrDuplicate if the key exists.
	Claim(ctx context.Context, rec models.IdempotencyRecord) error
	Get(ctx context.Context, key string) (models.IdempotencyRecord, error)
	SaveResponse(ctx context.Context, key string, resp map[string]any) error
	Forget(ctx context.Context, key string) error
}

type MongoIdempotencyStore struct {
	col *mongo.Collection
}

func NewMongoIdempotencyStore(col *mongo.Collection) *MongoIdempotencyStore {
	if col == nil {
		col = db.IdempotencyCollection
	}
	return &MongoIdempotencyStore{col: col}
}

func (s *MongoIdempotencyStore) Claim(ctx context.Context, rec models.IdempotencyRecord) error {
	_, err := s.col.InsertOne(ctx, rec)
	if db.IsDuplicateKey(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *MongoIdempotencyStore) Get(ctx context.Context, key string) (models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := s.col.FindOne(ctx, bson.M{"key": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, models.ErrNotFound
	}
	return rec, err
}

func (s *MongoIdempotencyStore) SaveResponse(ctx context.Context, key string, resp map[string]any) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"key": key}, bson.M{"$set": bson.M{"response": resp}})
	return err
}

func (s *MongoIdempotencyStore) Forget(ctx context.Context, key string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"key": key})
	return err
}

// Idempotency replays the stored response when a client repeats a mutating
// request with the same Idempotency-Key. A reused key with a different
// request gets 409, as does a repeat while the first is still running.
// Server errors are not stored so the client can retry.
type Idempotency struct {
	store IdempotencyStore
	now   func() time.Time
}

func NewIdempotency(store IdempotencyStore) *Idempotency {
	return &Idempotency{store: store, now: time.Now}
}

func (m *Idempotency) Wrap(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r, ps)
			return
		}
		userID := utils.GetUserIDFromRequest(r)

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		now := m.now()
		scoped := userID + ":" + key
		hash := requestHash(r, body, userID)
		ctx := r.Context()
		err = m.store.Claim(ctx, models.IdempotencyRecord{
			Key:         scoped,
			Method:      r.Method,
			Path:        r.URL.Path,
			UserID:      userID,
			RequestHash: hash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(idempotencyTTL),
		})
		switch {
		case err == nil:
			m.capture(w, r, ps, next, scoped)
			return
		case !errors.Is(err, models.ErrDuplicate):
			log.WithError(err).Warn("idempotency claim failed")
			utils.RespondWithError(w, http.StatusInternalServerError, "idempotency lookup error")
			return
		}

		existing, err := m.store.Get(ctx, scoped)
		if err != nil {
			utils.RespondWithError(w, http.StatusInternalServerError, "idempotency lookup error")
			return
		}
		if existing.RequestHash != hash {
			utils.RespondWithError(w, http.StatusConflict, "idempotency-key reused with a different request")
			return
		}
		if existing.Response == nil {
			utils.RespondWithError(w, http.StatusConflict, "a request with this idempotency-key is still in progress")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(statusOf(existing.Response["status"]))
		replay, _ := existing.Response["body"].(string)
		io.WriteString(w, replay)
	}
}

func (m *Idempotency) capture(w http.ResponseWriter, r *http.Request, ps httprouter.Params, next httprouter.Handle, key string) {
	crw := NewCaptureResponseWriter(w)
	next(crw, r, ps)

	ctx := context.WithoutCancel(r.Context())
	if crw.Status() >= http.StatusInternalServerError {
		if err := m.store.Forget(ctx, key); err != nil {
			log.WithError(err).Warn("idempotency record not cleared")
		}
		return
	}
	resp := map[string]any{"status": crw.Status(), "body": string(crw.BodyBytes())}
	if err := m.store.SaveResponse(ctx, key, resp); err != nil {
		log.WithError(err).Warn("idempotency response not stored")
	}
}

func requestHash(r *http.Request, body []byte, userID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s:", r.Method, r.URL.Path, userID)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// statusOf reads a status code back from a decoded BSON document.
func statusOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return http.StatusOK
}

// CaptureResponseWriter wraps http.ResponseWriter to capture status and body.
type CaptureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func NewCaptureResponseWriter(w http.ResponseWriter) *CaptureResponseWriter {
	return &CaptureResponseWriter{w: w, statusCode: http.StatusOK}
}

func (c *CaptureResponseWriter) Header() http.Header {
	return c.w.Header()
}

func (c *CaptureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *CaptureResponseWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(b)
	return c.w.Write(b)
}

func (c *CaptureResponseWriter) Status() int {
	return c.statusCode
}

func (c *CaptureResponseWriter) BodyBytes() []byte {
	return c.buf.Bytes()
}
