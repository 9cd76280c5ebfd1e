package jira

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// fakeJira serves the subset of the Jira REST API the client uses.
type fakeJira struct {
	t *testing.T

	mu           sync.Mutex
	names        map[string]string
	attachments  []attachment
	files        map[string][]byte
	transitions  []transition
	fieldUpdates []map[string]string
	transitioned []string
	issueStatus  int
}

func newFakeJira(t *testing.T) *fakeJira {
	return &fakeJira{
		t: t,
		names: map[string]string{
			"summary":           "Summary",
			"customfield_10100": "Recontact Report",
			"customfield_10200": "Cohort Info",
		},
		files: map[string][]byte{},
	}
}

func (f *fakeJira) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/files/"):
		payload, ok := f.files[strings.TrimPrefix(r.URL.Path, "/files/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(payload)

	case strings.HasSuffix(r.URL.Path, "/transitions") && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(transitionsResponse{Transitions: f.transitions})

	case strings.HasSuffix(r.URL.Path, "/transitions") && r.Method == http.MethodPost:
		var body transitionUpdate
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.transitioned = append(f.transitioned, body.Transition.ID)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet:
		if f.issueStatus != 0 {
			w.WriteHeader(f.issueStatus)
			_, _ = w.Write([]byte(`{"errorMessages":["Issue does not exist"]}`))
			return
		}
		assert.Equal(f.t, "names,renderedFields", r.URL.Query().Get("expand"))

		rendered := map[string]interface{}{"attachment": f.attachments}
		for id := range f.names {
			rendered[id] = nil
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "10000",
			"key":            "PROJ-1",
			"names":          f.names,
			"renderedFields": rendered,
		})

	case r.Method == http.MethodPut:
		var body issueUpdate
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.fieldUpdates = append(f.fieldUpdates, body.Fields)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeJira) addFile(server *httptest.Server, name, mimeType string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = payload
	f.attachments = append(f.attachments, attachment{
		Filename: name,
		MimeType: mimeType,
		Content:  server.URL + "/files/" + name,
	})
}

func newTestClient(t *testing.T, serverURL string, metrics *observability.Metrics) *HTTPClient {
	t.Helper()
	client, err := New(Config{
		BaseURL:             serverURL,
		Username:            "bot",
		Password:            "secret",
		ReportFieldName:     "report",
		CohortInfoFieldName: "cohort info",
		InvalidStatusName:   "invalid",
		CohortKey:           testKey,
		Timeout:             2 * time.Second,
		RateLimit:           100,
		MaxRetries:          1,
		RetryDelay:          10 * time.Millisecond,
	}, metrics, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func sampleCohortJSON(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.CohortDefinition{Cohort: domain.CohortDetails{
		Name:           "diabetes",
		DatasetVersion: "2.1",
		PseudonymIDs:   []string{"p1", "p2", "p1"},
	}})
	require.NoError(t, err)
	return payload
}

func sealed(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	d, err := NewDecrypter(testKey)
	require.NoError(t, err)
	payload, err := d.Seal(plaintext)
	require.NoError(t, err)
	return payload
}

func TestNew_RejectsBadKey(t *testing.T) {
	_, err := New(Config{CohortKey: []byte("short")}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestHTTPClient_UpdateReportField(t *testing.T) {
	ctx := context.Background()

	t.Run("writes the resolved custom field", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()

		metrics := observability.NewMetricsWithRegistry("jira_test", prometheus.NewRegistry())
		client := newTestClient(t, server.URL, metrics)

		require.NoError(t, client.UpdateReportField(ctx, "PROJ-1", "new report data"))
		require.Len(t, fake.fieldUpdates, 1)
		assert.Equal(t, map[string]string{"customfield_10100": "new report data"}, fake.fieldUpdates[0])
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JiraCalls.WithLabelValues(observability.JiraOpUpdateReportField)))
	})

	t.Run("follows a renamed label", func(t *testing.T) {
		fake := newFakeJira(t)
		fake.names = map[string]string{"customfield_123456": "My Report Label"}
		server := httptest.NewServer(fake)
		defer server.Close()

		require.NoError(t, newTestClient(t, server.URL, nil).UpdateReportField(ctx, "PROJ-1", "x"))
		assert.Equal(t, map[string]string{"customfield_123456": "x"}, fake.fieldUpdates[0])
	})

	t.Run("missing field", func(t *testing.T) {
		fake := newFakeJira(t)
		fake.names = map[string]string{"customfield_bla": "nothing"}
		server := httptest.NewServer(fake)
		defer server.Close()

		err := newTestClient(t, server.URL, nil).UpdateReportField(ctx, "PROJ-1", "x")
		assert.ErrorIs(t, err, ErrCustomFieldNotFound)
		var fieldErr *CustomFieldNotFoundError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "report", fieldErr.FieldName)
		assert.Empty(t, fake.fieldUpdates)
	})

	t.Run("issue lookup fails", func(t *testing.T) {
		fake := newFakeJira(t)
		fake.issueStatus = http.StatusNotFound
		server := httptest.NewServer(fake)
		defer server.Close()

		metrics := observability.NewMetricsWithRegistry("jira_test", prometheus.NewRegistry())
		err := newTestClient(t, server.URL, metrics).UpdateReportField(ctx, "PROJ-1", "x")

		assert.ErrorIs(t, err, domain.ErrRemoteCall)
		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JiraCallFailures.WithLabelValues(observability.JiraOpUpdateReportField)))
	})
}

func TestHTTPClient_UpdateCohortInfoField(t *testing.T) {
	fake := newFakeJira(t)
	server := httptest.NewServer(fake)
	defer server.Close()

	require.NoError(t, newTestClient(t, server.URL, nil).UpdateCohortInfoField(context.Background(), "PROJ-1", "Size: 2"))
	assert.Equal(t, map[string]string{"customfield_10200": "Size: 2"}, fake.fieldUpdates[0])
}

func TestHTTPClient_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("transitions and marks both fields", func(t *testing.T) {
		fake := newFakeJira(t)
		fake.transitions = []transition{
			{ID: "11", Name: "Start"},
			{ID: "31", Name: "Reject"},
		}
		fake.transitions[0].To.Name = "In Progress"
		fake.transitions[1].To.Name = "Invalid"
		server := httptest.NewServer(fake)
		defer server.Close()

		require.NoError(t, newTestClient(t, server.URL, nil).Invalidate(ctx, "PROJ-1", "no cohort"))

		assert.Equal(t, []string{"31"}, fake.transitioned)
		require.Len(t, fake.fieldUpdates, 2)
		assert.Equal(t, InvalidText, fake.fieldUpdates[0]["customfield_10100"])
		assert.Equal(t, InvalidText, fake.fieldUpdates[1]["customfield_10200"])
	})

	t.Run("no invalid transition", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()

		err := newTestClient(t, server.URL, nil).Invalidate(ctx, "PROJ-1", "no cohort")
		assert.ErrorIs(t, err, ErrTransitionNotFound)
		assert.Empty(t, fake.fieldUpdates)
	})
}

func TestHTTPClient_FetchCohort(t *testing.T) {
	ctx := context.Background()

	t.Run("decrypts the single binary attachment", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()

		fake.addFile(server, "cohort.enc", "application/octet-stream", sealed(t, sampleCohortJSON(t)))
		fake.addFile(server, "cohort.json", "application/json", []byte(`{"cohort":{"name":"plain"}}`))

		def, err := newTestClient(t, server.URL, nil).FetchCohort(ctx, "PROJ-1")
		require.NoError(t, err)
		assert.Equal(t, "diabetes", def.Cohort.Name)
		assert.Equal(t, []string{"p1", "p2"}, def.CitizenIDs())
	})

	t.Run("uses plaintext json when allowed", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()
		fake.addFile(server, "cohort.json", "application/json", sampleCohortJSON(t))

		client := newTestClient(t, server.URL, nil)
		client.config.PlaintextJSONAllowed = true

		def, err := client.FetchCohort(ctx, "PROJ-1")
		require.NoError(t, err)
		assert.Equal(t, "2.1", def.Cohort.DatasetVersion)
	})

	t.Run("ignores plaintext json when not allowed", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()
		fake.addFile(server, "cohort.json", "application/json", sampleCohortJSON(t))

		_, err := newTestClient(t, server.URL, nil).FetchCohort(ctx, "PROJ-1")
		assert.ErrorIs(t, err, ErrCohortNotFound)
	})

	t.Run("multiple binary attachments", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()
		fake.addFile(server, "a.enc", "application/octet-stream", []byte("a"))
		fake.addFile(server, "b.enc", "application/octet-stream", []byte("b"))

		_, err := newTestClient(t, server.URL, nil).FetchCohort(ctx, "PROJ-1")
		assert.ErrorIs(t, err, ErrMultipleCohorts)
		assert.Equal(t, domain.RemoteCohortMultiple, CohortErrorKind(err))
	})

	t.Run("no attachments", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()

		_, err := newTestClient(t, server.URL, nil).FetchCohort(ctx, "PROJ-1")
		assert.ErrorIs(t, err, ErrCohortNotFound)
		assert.Equal(t, domain.RemoteCohortNotFound, CohortErrorKind(err))
	})

	t.Run("tampered attachment", func(t *testing.T) {
		fake := newFakeJira(t)
		server := httptest.NewServer(fake)
		defer server.Close()

		payload := sealed(t, sampleCohortJSON(t))
		payload[len(payload)-1] ^= 0xff
		fake.addFile(server, "cohort.enc", "application/octet-stream", payload)

		_, err := newTestClient(t, server.URL, nil).FetchCohort(ctx, "PROJ-1")
		assert.ErrorIs(t, err, ErrDecryption)
		assert.Equal(t, domain.RemoteCohortDecryptionFailed, CohortErrorKind(err))
	})

	t.Run("sends basic auth", func(t *testing.T) {
		var user, pass string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, _ = r.BasicAuth()
			_, _ = io.WriteString(w, `{"id":"1","key":"PROJ-1","names":{},"renderedFields":{}}`)
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL, nil).FetchCohort(ctx, "PROJ-1")
		assert.ErrorIs(t, err, ErrCohortNotFound)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "secret", pass)
	})
}

func TestCohortErrorKind_Other(t *testing.T) {
	assert.Equal(t, domain.RemoteCohortOther, CohortErrorKind(domain.NewExternalAPIError("jira", 500, "boom", nil)))
}
