package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/pkg/utils"
)

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if u, ok := args.Get(0).(*models.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if u, ok := args.Get(0).(*models.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserStore) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role) (*models.User, error) {
	args := m.Called(ctx, email, passwordHash, fullName, role)
	if u, ok := args.Get(0).(*models.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

var errNoRows = errors.New("no rows in result set")

func newAuthRouter(t *testing.T, store UserStore) (*gin.Engine, *JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt := NewJWTService("secret", 1)
	h := NewHandler(store, jwt, zaptest.NewLogger(t))
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	return r, jwt
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func Test_Register(t *testing.T) {
	store := &mockUserStore{}
	r, jwt := newAuthRouter(t, store)
	id := uuid.New()
	store.On("GetByEmail", mock.Anything, "ada@example.com").Return(nil, errNoRows).Once()
	store.On("Create", mock.Anything, "ada@example.com", mock.AnythingOfType("string"), "Ada", models.RoleCoach).
		Return(&models.User{ID: id, Email: "ada@example.com", FullName: "Ada", Role: models.RoleCoach}, nil).Once()

	w := post(r, "/auth/register", `{"email":"ada@example.com","password":"secret1","full_name":"Ada","role":"coach"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := jwt.Validate(resp.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "Ada", claims.Name)
	store.AssertExpectations(t)
}

func Test_RegisterRejects(t *testing.T) {
	store := &mockUserStore{}
	r, _ := newAuthRouter(t, store)
	store.On("GetByEmail", mock.Anything, "taken@example.com").Return(&models.User{}, nil)

	cases := map[string]string{
		"invalid role":   `{"email":"new@example.com","password":"secret1","full_name":"Ada","role":"admin"}`,
		"taken email":    `{"email":"taken@example.com","password":"secret1","full_name":"Ada"}`,
		"short password": `{"email":"new@example.com","password":"123","full_name":"Ada"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := post(r, "/auth/register", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_Login(t *testing.T) {
	hash, err := utils.HashPassword("secret1")
	require.NoError(t, err)
	store := &mockUserStore{}
	r, _ := newAuthRouter(t, store)
	store.On("GetByEmail", mock.Anything, "ada@example.com").
		Return(&models.User{ID: uuid.New(), Email: "ada@example.com", Password: hash, FullName: "Ada", Role: models.RoleLearner}, nil)
	store.On("GetByEmail", mock.Anything, "nobody@example.com").Return(nil, errNoRows)

	assert.Equal(t, http.StatusOK, post(r, "/auth/login", `{"email":"ada@example.com","password":"secret1"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/auth/login", `{"email":"ada@example.com","password":"wrong"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/auth/login", `{"email":"nobody@example.com","password":"secret1"}`).Code)
}

func Test_Me(t *testing.T) {
	gin.SetMode(gin.TestMode)
	known := uuid.New()
	gone := uuid.New()
	broken := uuid.New()

	store := &mockUserStore{}
	store.On("GetByID", mock.Anything, known).
		Return(&models.User{ID: known, Email: "ada@example.com", Password: "hash", FullName: "Ada", Role: models.RoleCoach}, nil)
	store.On("GetByID", mock.Anything, gone).Return(nil, pgx.ErrNoRows)
	store.On("GetByID", mock.Anything, broken).Return(nil, errors.New("connection reset"))

	h := NewHandler(store, NewJWTService("secret", 1), zaptest.NewLogger(t))
	me := func(id uuid.UUID) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/auth/me", func(c *gin.Context) { c.Set(ContextUserID, id) }, h.Me)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		return w
	}

	w := me(known)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"email":"ada@example.com"`)
	assert.NotContains(t, w.Body.String(), "hash", "expected the password hash to stay private")

	assert.Equal(t, http.StatusNotFound, me(gone).Code)
	assert.Equal(t, http.StatusInternalServerError, me(broken).Code)
}
