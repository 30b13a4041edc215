package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventhub/globals"
	"eventhub/models"
	"eventhub/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	globals.JwtSecret = []byte("test-secret")
}

func whoami(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.RespondWithJSON(w, http.StatusOK, utils.GetPrincipal(r))
}

func call(t *testing.T, h httprouter.Handle, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h(rec, req, nil)
	return rec
}

func TestAuthenticate(t *testing.T) {
	token, err := IssueToken("u1", []string{models.RoleUser}, time.Hour)
	require.NoError(t, err)

	rec := call(t, Authenticate(whoami), token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"u1","roles":["user"]}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call(t, Authenticate(whoami), "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, Authenticate(whoami), "garbage").Code)

	expired, err := IssueToken("u1", nil, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, Authenticate(whoami), expired).Code)
}

func TestAuthenticateRejectsOtherAlgorithms(t *testing.T) {
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, Authenticate(whoami), none).Code)
}

func TestOptionalAuth(t *testing.T) {
	rec := call(t, OptionalAuth(whoami), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"","roles":null}`, rec.Body.String())

	token, err := IssueToken("u7", nil, time.Hour)
	require.NoError(t, err)
	rec = call(t, OptionalAuth(whoami), token)
	assert.Contains(t, rec.Body.String(), `"u7"`)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleOrganizer)(whoami)
	user, _ := IssueToken("u1", []string{models.RoleUser}, time.Hour)
	org, _ := IssueToken("o1", []string{models.RoleUser, models.RoleOrganizer}, time.Hour)
	adm, _ := IssueToken("a1", []string{models.RoleAdmin}, time.Hour)

	assert.Equal(t, http.StatusForbidden, call(t, h, user).Code)
	assert.Equal(t, http.StatusOK, call(t, h, org).Code)
	assert.Equal(t, http.StatusOK, call(t, h, adm).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, h, "").Code)
}
