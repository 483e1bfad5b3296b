package kommo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLead_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/leads/42", r.URL.Path)
		assert.Equal(t, "contacts,companies", r.URL.Query().Get("with"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":42,"name":"Acme Deal","price":1000,"pipeline_id":7,"status_id":70}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	lead, err := client.GetLead(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, 42, lead.ID)
	assert.Equal(t, "Acme Deal", lead.Name)
	assert.Equal(t, int64(1000), lead.Price)
	assert.Equal(t, 7, lead.PipelineID)
}

func TestGetLead_FlexibleContactShapes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"name":"Lead","phone":"+1 555 0100","email":[{"value":"a@b.co"},{"value":"c@d.co"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	lead, err := client.GetLead(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "+1 555 0100", lead.Phone.Join(""))
	assert.Equal(t, "a@b.co, c@d.co", lead.Email.Join(""))
}

func TestGetLeads_Pagination(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("filter[pipeline_id]"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"_embedded":{"leads":[{"id":1,"name":"A"},{"id":2,"name":"B"}]}}`))
		default:
			w.Write([]byte(`{"_embedded":{"leads":[{"id":3,"name":"C"}]}}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", WithPageLimit(2))
	leads, err := client.GetLeads(context.Background(), 7, 0)

	require.NoError(t, err)
	require.Len(t, leads, 3)
	assert.Equal(t, 1, leads[0].ID)
	assert.Equal(t, 3, leads[2].ID)
}

func TestGetLeads_EmptyPipeline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"_embedded":{"leads":[]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	leads, err := client.GetLeads(context.Background(), 7, 0)

	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestGetPipelines_NestedStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/pipelines", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"_embedded":{"pipelines":[
			{"id":7,"name":"Sales","_embedded":{"statuses":[{"id":70,"name":"New"},{"id":71,"name":"Qualified"}]}}
		]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	pipelines, err := client.GetPipelines(context.Background())

	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	assert.Equal(t, "Sales", pipelines[0].Name)
	require.Len(t, pipelines[0].Statuses, 2)
	assert.Equal(t, "Qualified", pipelines[0].Statuses[1].Name)
}

func TestGetAllLeads_SkipsFailingPipeline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/leads/pipelines":
			w.Write([]byte(`{"_embedded":{"pipelines":[{"id":1,"name":"One"},{"id":2,"name":"Two"}]}}`))
		case r.URL.Query().Get("filter[pipeline_id]") == "1":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"title":"Not found"}`))
		default:
			w.Write([]byte(`{"_embedded":{"leads":[{"id":9,"name":"Kept"}]}}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	leads, err := client.GetAllLeads(context.Background())

	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, 9, leads[0].ID)
}

func TestMoveLead_SendsPatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/leads/5", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(7), body["pipeline_id"])
		assert.Equal(t, float64(70), body["status_id"])

		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	require.NoError(t, client.MoveLead(context.Background(), 5, 7, 70))
}

func TestAddTag_SkipsExisting(t *testing.T) {
	t.Parallel()

	var patches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patches.Add(1)
			w.Write([]byte(`{}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":5,"name":"Lead","_embedded":{"tags":[{"id":1,"name":"AI Score: 8/10"}]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	require.NoError(t, client.AddTag(context.Background(), 5, "AI Score: 8/10"))
	assert.Equal(t, int32(0), patches.Load())
}

func TestAddTag_AppendsToBatchEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":5,"name":"Lead","_embedded":{"tags":[{"id":1,"name":"hot"}]}}`))
			return
		}

		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/leads", r.URL.Path)

		var body []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body, 1)
		assert.Equal(t, float64(5), body[0]["id"])

		embedded := body[0]["_embedded"].(map[string]any)
		tags := embedded["tags"].([]any)
		require.Len(t, tags, 2)
		assert.Equal(t, "hot", tags[0].(map[string]any)["name"])
		assert.Equal(t, "AI Score: 8/10", tags[1].(map[string]any)["name"])

		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	require.NoError(t, client.AddTag(context.Background(), 5, "AI Score: 8/10"))
}

func TestDo_RetryOn429(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"name":"Lead"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	lead, err := client.GetLead(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, lead.ID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestDo_NonRetryableErrorPreservesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"title":"Unauthorized"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	_, err := client.GetLead(context.Background(), 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestRetryableStatusCode(t *testing.T) {
	t.Parallel()

	assert.True(t, retryableStatusCode(429))
	assert.True(t, retryableStatusCode(500))
	assert.True(t, retryableStatusCode(502))
	assert.True(t, retryableStatusCode(503))
	assert.False(t, retryableStatusCode(200))
	assert.False(t, retryableStatusCode(404))
	assert.False(t, retryableStatusCode(401))
}

func TestGetLeadCommunications_DegradesToEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"title":"Not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token")
	comms, err := client.GetLeadCommunications(context.Background(), 1)

	require.NoError(t, err)
	assert.Empty(t, comms.Messages)
	assert.Empty(t, comms.Notes)
}
