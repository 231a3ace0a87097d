package anymail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/pkg/apierror"
)

func TestFindPerson_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search/person.json", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var q PersonQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "acme.com", q.Domain)
		assert.Equal(t, "Jane", q.FirstName)

		json.NewEncoder(w).Encode(map[string]any{"email": "jane@acme.com", "email_class": "verified"})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.FindPerson(context.Background(), PersonQuery{Domain: "acme.com", FirstName: "Jane", LastName: "Doe"})

	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", got.Email)
	assert.True(t, got.Verified())
}

func TestFindCompany_FirstEmail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/company.json", r.URL.Path)
		w.Write([]byte(`{"emails":[{"email":""},{"email":"info@acme.com","email_class":"risky"}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.FindCompany(context.Background(), "acme.com")

	require.NoError(t, err)
	assert.Equal(t, "info@acme.com", got.Email)
	assert.False(t, got.Verified())
}

func TestFindCompany_NoEmails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emails":[]}`))
	}))
	defer srv.Close()

	got, err := NewClient("k", WithBaseURL(srv.URL)).FindCompany(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Empty(t, got.Email)
}

func TestFindPerson_StatusCarried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"credits", http.StatusPaymentRequired},
		{"not found", http.StatusNotFound},
		{"rate limited", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithBaseURL(srv.URL)).FindPerson(context.Background(), PersonQuery{Domain: "acme.com"})
			require.Error(t, err)
			assert.Equal(t, tt.status, apierror.Status(err))
		})
	}
}
