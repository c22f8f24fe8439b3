package presentations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/internal/models"
)

type fakeStore struct {
	presentations map[uuid.UUID]*models.Presentation
	editors       map[uuid.UUID][]uuid.UUID
}

func (f *fakeStore) GetPresentation(_ context.Context, id uuid.UUID) (*models.Presentation, error) {
	p, ok := f.presentations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Presentation, error) {
	var out []models.Presentation
	for _, p := range f.presentations {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEditors(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return f.editors[id], nil
}

type fakeMembers map[uuid.UUID]bool

func (f fakeMembers) IsMember(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return f[userID], nil
}

type fakeObjects struct {
	uploads   map[string][]byte
	types     map[string]string
	failWith  error
	bucketURL string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploads: map[string][]byte{}, types: map[string]string{}, bucketURL: "https://decks.s3.eu-west-1.amazonaws.com/"}
}

func (f *fakeObjects) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.uploads[key] = b
	f.types[key] = contentType
	return f.bucketURL + key, nil
}

func (f *fakeObjects) PresignedDownloadURL(_ context.Context, key string) (string, error) {
	return f.bucketURL + key + "?X-Amz-Signature=abc", nil
}

func (f *fakeObjects) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, f.bucketURL) {
		return "", false
	}
	return strings.TrimPrefix(url, f.bucketURL), true
}

func (f *fakeObjects) PresignExpire() time.Duration { return 15 * time.Minute }

func newRouter(h *Handler, user uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r.Group("", func(c *gin.Context) { c.Set(middleware.ContextUserID, user) }))
	return r
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadStoresFile(t *testing.T) {
	member := uuid.New()
	sid := uuid.New()
	objects := newFakeObjects()
	h := NewHandler(&fakeStore{}, fakeMembers{member: true}, objects, nil)

	body, ct := multipartBody(t, "Week 3.PDF", []byte("%PDF-1.7"))
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sid.String()+"/presentations/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	newRouter(h, member).ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data struct {
			FileName string `json:"fileName"`
			FileURL  string `json:"fileUrl"`
			FileType string `json:"fileType"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Week 3.PDF", resp.Data.FileName)
	assert.Equal(t, "application/pdf", resp.Data.FileType)
	key, ok := objects.KeyFromURL(resp.Data.FileURL)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, "presentations/"+sid.String()+"/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.Equal(t, []byte("%PDF-1.7"), objects.uploads[key])
}

func TestUploadRejections(t *testing.T) {
	member := uuid.New()
	sid := uuid.New()
	tests := []struct {
		name     string
		user     uuid.UUID
		filename string
		fail     error
		want     int
	}{
		{"non participant", uuid.New(), "deck.pdf", nil, http.StatusForbidden},
		{"unsupported type", member, "notes.txt", nil, http.StatusBadRequest},
		{"storage failure", member, "deck.pptx", errors.New("s3 down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			objects := newFakeObjects()
			objects.failWith = tc.fail
			h := NewHandler(&fakeStore{}, fakeMembers{member: true}, objects, nil)
			body, ct := multipartBody(t, tc.filename, []byte("x"))
			req := httptest.NewRequest(http.MethodPost, "/sessions/"+sid.String()+"/presentations/upload", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			newRouter(h, tc.user).ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.fail == nil {
				assert.Empty(t, objects.uploads)
			}
		})
	}
}

func TestUploadWithoutStorage(t *testing.T) {
	member := uuid.New()
	h := NewHandler(&fakeStore{}, fakeMembers{member: true}, nil, nil)
	body, ct := multipartBody(t, "deck.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+uuid.NewString()+"/presentations/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	newRouter(h, member).ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDownloadURL(t *testing.T) {
	member := uuid.New()
	sid := uuid.New()
	objects := newFakeObjects()
	stored := &models.Presentation{ID: uuid.New(), SessionID: sid, FileURL: objects.bucketURL + "presentations/x/deck.pdf"}
	external := &models.Presentation{ID: uuid.New(), SessionID: sid, FileURL: "https://docs.example.com/slides.pdf"}
	editor := uuid.New()
	store := &fakeStore{
		presentations: map[uuid.UUID]*models.Presentation{stored.ID: stored, external.ID: external},
		editors:       map[uuid.UUID][]uuid.UUID{stored.ID: {editor}},
	}
	h := NewHandler(store, fakeMembers{member: true}, objects, nil)
	r := newRouter(h, member)

	get := func(id uuid.UUID) (*httptest.ResponseRecorder, map[string]any) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/presentations/"+id.String()+"/download-url", nil))
		var resp struct {
			Data map[string]any `json:"data"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		return w, resp.Data
	}

	w, data := get(stored.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, data["downloadUrl"], "X-Amz-Signature")
	assert.EqualValues(t, 900, data["expiresIn"])
	assert.Len(t, data["editors"], 1)

	w, data = get(external.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, external.FileURL, data["downloadUrl"])

	w, _ = get(uuid.New())
	assert.Equal(t, http.StatusNotFound, w.Code)

	outsider := newRouter(h, uuid.New())
	w = httptest.NewRecorder()
	outsider.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/presentations/"+stored.ID.String()+"/download-url", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListPresentations(t *testing.T) {
	member := uuid.New()
	sid := uuid.New()
	p := &models.Presentation{ID: uuid.New(), SessionID: sid, FileName: "deck.pdf"}
	h := NewHandler(&fakeStore{presentations: map[uuid.UUID]*models.Presentation{p.ID: p}}, fakeMembers{member: true}, nil, nil)

	w := httptest.NewRecorder()
	newRouter(h, member).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+sid.String()+"/presentations", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []models.Presentation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "deck.pdf", resp.Data[0].FileName)
}
