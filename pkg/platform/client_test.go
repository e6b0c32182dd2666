package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/", "secret")
}

func TestListAnnotations(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/projects/p1/images/img%201/annotations", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"annotations":[{"id":"srv-1","uid":"u1","type":"bbox","class_name":"car","data":[0.1,0.2,0.3,0.4],"confidence":1}]}`)
	})

	list, err := c.ListAnnotations(context.Background(), "p1", "img 1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].Key())
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, list[0].Data)
}

func TestCreateAnnotationSendsPayload(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got Annotation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "u1", got.UID)
		assert.Equal(t, "img", got.ImageID)
		assert.Equal(t, 4.5, got.TimeSeconds)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"srv-9"}`)
	})

	created, err := c.CreateAnnotation(context.Background(), "p1", "img", Annotation{
		UID: "u1", Type: TypeBBox, ClassName: "car", Data: []float64{0, 0, 0.5, 0.5}, TimeSeconds: 4.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-9", created.ID)
	assert.Equal(t, "u1", created.UID)
}

func TestCreateAnnotationsBatchUnsupported(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/p1/annotations/batch", r.URL.Path)
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.CreateAnnotations(context.Background(), "p1", "img", []Annotation{{UID: "a"}})
	require.Error(t, err)
	assert.True(t, HasStatus(err, http.StatusNotFound, http.StatusMethodNotAllowed))
	assert.False(t, HasStatus(err, http.StatusInternalServerError))
}

func TestUpdateAndDelete(t *testing.T) {
	var calls []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.RequestURI())
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.UpdateAnnotation(context.Background(), "p1", Annotation{UID: "u1", Type: TypeBBox}))
	require.NoError(t, c.DeleteAnnotation(context.Background(), "p1", "u1", false))
	require.NoError(t, c.DeleteAnnotation(context.Background(), "p1", "u2", true))

	assert.Equal(t, []string{
		"PATCH /api/projects/p1/annotations/u1",
		"DELETE /api/projects/p1/annotations/u1?hard_delete=false",
		"DELETE /api/projects/p1/annotations/u2?hard_delete=true",
	}, calls)
}

func TestServerErrorIsStatusError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	err := c.DeleteAnnotation(context.Background(), "p1", "u1", true)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "boom", se.Body)
}

func TestJobImagesAndFile(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/p1/jobs/j1/images":
			_, _ = io.WriteString(w, `{"images":[{"id":"a"},{"id":"b","width":640,"height":480}]}`)
		case "/api/projects/p1/images/b/file":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{1, 2, 3})
		default:
			http.NotFound(w, r)
		}
	})

	images, err := c.JobImages(context.Background(), "p1", "j1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, 640, images[1].Width)

	data, ct, err := c.ImageFile(context.Background(), "p1", "b")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "image/png", ct)

	_, _, err = c.ImageFile(context.Background(), "p1", "zzz")
	assert.True(t, HasStatus(err, http.StatusNotFound))
}
